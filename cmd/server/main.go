package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabdev/odds-consensus-service/internal/config"
	httpHandler "github.com/cypherlabdev/odds-consensus-service/internal/handler/http"
	"github.com/cypherlabdev/odds-consensus-service/internal/messaging"
	"github.com/cypherlabdev/odds-consensus-service/internal/normalizer"
	"github.com/cypherlabdev/odds-consensus-service/internal/provider"
	"github.com/cypherlabdev/odds-consensus-service/internal/query"
	"github.com/cypherlabdev/odds-consensus-service/internal/quota"
	"github.com/cypherlabdev/odds-consensus-service/internal/service"
	"github.com/cypherlabdev/odds-consensus-service/internal/store"
	"github.com/cypherlabdev/odds-consensus-service/pkg/consensus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("starting odds-consensus-service")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create Redis client for the quota store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	// Create quota store
	quotaStore, err := quota.NewStore(redisClient, quota.StoreConfig{
		Key:        cfg.Quota.RedisKey,
		DailyLimit: cfg.Quota.DailyLimit,
		Timezone:   cfg.Quota.Timezone,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create quota store")
	}
	logger.Info().Int("daily_limit", cfg.Quota.DailyLimit).Str("timezone", cfg.Quota.Timezone).Msg("quota store initialized")

	// Create provider client (fails fast without a credential)
	providerClient, err := provider.NewClient(provider.ClientConfig{
		Host:           cfg.Provider.Host,
		APIKey:         cfg.Provider.APIKey,
		Regions:        cfg.Provider.Regions,
		OddsFormat:     cfg.Provider.OddsFormat,
		Timeout:        cfg.Provider.Timeout,
		RemainingFloor: cfg.Provider.RemainingFloor,
	}, quotaStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create provider client")
	}

	// Create baseline store
	baselineStore := store.NewFileStore(cfg.Storage.Dir, logger)

	// Create refresh publisher (nop when no brokers configured)
	var publisher service.Publisher = messaging.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := messaging.NewKafkaPublisher(messaging.KafkaPublisherConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher initialized")
	}

	// Create ingestion pipeline
	ingestionService := service.NewIngestionService(
		providerClient,
		normalizer.NewNormalizer(logger),
		consensus.NewAggregator(logger),
		baselineStore,
		publisher,
		service.IngestionConfig{
			Sports:            cfg.Ingestion.Sports,
			MaxEventsPerSport: cfg.Ingestion.MaxEventsPerSport,
			PeriodMarkets:     cfg.Ingestion.PeriodMarkets,
			MinBooks:          cfg.Consensus.MinBooks,
		},
		logger,
	)
	logger.Info().Msg("ingestion service initialized")

	// Create edge query engine
	queryEngine := query.NewEngine(baselineStore, cfg.Query, logger)
	logger.Info().Msg("query engine initialized")

	// Initialize HTTP handler
	picksHandler := httpHandler.NewPicksHandler(queryEngine, ingestionService, quotaStore, cfg.Server.AdminToken, logger)
	logger.Info().Msg("HTTP handler initialized")

	// Setup HTTP server routes
	mux := http.NewServeMux()

	// Health and monitoring endpoints
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		readyHandler(w, r, redisClient)
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Register API routes
	picksHandler.RegisterRoutes(mux)
	logger.Info().Msg("API routes registered")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start HTTP server in goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down gracefully...")

	cancel()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set format
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return log.Logger.With().Str("service", "odds-consensus").Logger()
}

// healthHandler returns 200 if service is running
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler returns 200 if service is ready to accept traffic
func readyHandler(w http.ResponseWriter, r *http.Request, client *redis.Client) {
	// Quota state lives in Redis; without it the budget guard degrades.
	if err := client.Ping(r.Context()).Err(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Redis unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}
