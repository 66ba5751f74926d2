package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// KafkaPublisher announces refreshed baselines to downstream consumers
// (alerting, archival). One message per successful ingestion run, keyed by
// source so a compacted topic retains the latest snapshot per source.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// KafkaPublisherConfig holds Kafka publisher configuration
type KafkaPublisherConfig struct {
	Brokers []string // e.g., ["localhost:9092"]
	Topic   string   // e.g., "consensus_baselines"
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(config KafkaPublisherConfig, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// PublishRefresh publishes one baseline refresh message.
func (p *KafkaPublisher) PublishRefresh(ctx context.Context, msg models.BaselineRefreshMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh message: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Source),
		Value: data,
	}); err != nil {
		return fmt.Errorf("failed to write refresh message: %w", err)
	}

	p.logger.Info().
		Str("source", string(msg.Source)).
		Str("batch_id", msg.BatchID.String()).
		Int("rows", len(msg.Rows)).
		Msg("published baseline refresh")

	return nil
}

// Close closes the Kafka writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards refresh messages. Used when no brokers are
// configured.
type NopPublisher struct{}

// PublishRefresh implements Publisher without doing anything.
func (NopPublisher) PublishRefresh(context.Context, models.BaselineRefreshMessage) error {
	return nil
}
