package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/metrics"
	"github.com/cypherlabdev/odds-consensus-service/internal/models"
	"github.com/cypherlabdev/odds-consensus-service/internal/normalizer"
	"github.com/cypherlabdev/odds-consensus-service/internal/provider"
)

// IngestionConfig controls what one refresh run pulls.
type IngestionConfig struct {
	Sports            []string
	MaxEventsPerSport int
	PeriodMarkets     map[string]string // sport_key -> sub-period market key
	MinBooks          int
}

// IngestionService runs the pull -> normalize -> aggregate -> persist ->
// publish pipeline for one source. Runs may be triggered concurrently by
// overlapping callers; quota arbitration happens in the provider client and
// snapshot replacement is atomic, so runs never corrupt shared state.
type IngestionService struct {
	provider   Provider
	normalizer Normalizer
	aggregator Aggregator
	store      BaselineStore
	publisher  Publisher
	cfg        IngestionConfig
	logger     zerolog.Logger
}

// NewIngestionService creates an ingestion service.
func NewIngestionService(
	prov Provider,
	norm Normalizer,
	agg Aggregator,
	store BaselineStore,
	pub Publisher,
	cfg IngestionConfig,
	logger zerolog.Logger,
) *IngestionService {
	return &IngestionService{
		provider:   prov,
		normalizer: norm,
		aggregator: agg,
		store:      store,
		publisher:  pub,
		cfg:        cfg,
		logger:     logger.With().Str("component", "ingestion_service").Logger(),
	}
}

// Refresh executes one batch run for a source and replaces its persisted
// baseline wholesale. A budget denial aborts the run; a provider failure on
// one sport is recorded and the run continues with the remaining sports.
func (s *IngestionService) Refresh(ctx context.Context, source models.MarketPeriod) (*models.RunReport, error) {
	started := time.Now().UTC()
	report := &models.RunReport{
		BatchID:   uuid.New(),
		Source:    source,
		StartedAt: started,
	}

	var (
		raw []models.RawRecord
		err error
	)
	if source == models.MarketPeriodFullGame {
		raw, err = s.pullFullGame(ctx, report)
	} else {
		raw, err = s.pullSubPeriod(ctx, source, report)
	}
	if err != nil {
		metrics.IngestionRuns.WithLabelValues(string(source), "budget_exceeded").Inc()
		report.Duration = time.Since(started)
		return report, err
	}
	report.RawRows = len(raw)

	quotes, err := s.normalizer.Normalize(raw, []models.MarketPeriod{source})
	if err != nil {
		metrics.IngestionRuns.WithLabelValues(string(source), "schema_error").Inc()
		report.Duration = time.Since(started)
		return report, fmt.Errorf("normalization failed: %w", err)
	}
	report.QuoteRows = len(quotes)

	rows := s.aggregator.Aggregate(quotes, s.cfg.MinBooks)
	report.BaselineRows = len(rows)

	snapshot := &models.BaselineSnapshot{
		Source:      source,
		BatchID:     report.BatchID,
		GeneratedAt: started,
		Rows:        rows,
	}
	if err := s.store.Save(snapshot); err != nil {
		metrics.IngestionRuns.WithLabelValues(string(source), "store_error").Inc()
		report.Duration = time.Since(started)
		return report, fmt.Errorf("failed to persist baseline: %w", err)
	}

	// Publishing is best-effort; the snapshot is already durable.
	if err := s.publisher.PublishRefresh(ctx, models.BaselineRefreshMessage{
		BatchID:     report.BatchID,
		Source:      source,
		GeneratedAt: started,
		Rows:        rows,
	}); err != nil {
		s.logger.Warn().Err(err).Str("source", string(source)).Msg("failed to publish baseline refresh")
	} else {
		report.Published = true
	}

	report.Duration = time.Since(started)
	metrics.IngestionRuns.WithLabelValues(string(source), "ok").Inc()

	s.logger.Info().
		Str("source", string(source)).
		Str("batch_id", report.BatchID.String()).
		Int("raw_rows", report.RawRows).
		Int("quote_rows", report.QuoteRows).
		Int("baseline_rows", report.BaselineRows).
		Dur("duration", report.Duration).
		Msg("ingestion run complete")

	return report, nil
}

// pullFullGame pulls the full-game moneyline for every configured sport.
func (s *IngestionService) pullFullGame(ctx context.Context, report *models.RunReport) ([]models.RawRecord, error) {
	var raw []models.RawRecord
	for _, sport := range s.cfg.Sports {
		rows, err := s.provider.FetchQuotes(ctx, sport, []string{"h2h"})
		if err != nil {
			if provider.IsBudgetExceeded(err) {
				report.Sports = append(report.Sports, models.SportRunReport{SportKey: sport, Error: err.Error()})
				return nil, err
			}
			s.logger.Warn().Err(err).Str("sport", sport).Msg("sport pull failed, continuing run")
			report.Sports = append(report.Sports, models.SportRunReport{SportKey: sport, Error: err.Error()})
			continue
		}
		raw = append(raw, rows...)
		report.Sports = append(report.Sports, models.SportRunReport{SportKey: sport, RawRows: len(rows)})
	}
	return raw, nil
}

// pullSubPeriod enumerates events per sport via the cheap full-game call,
// then pulls the sport's configured sub-period market per event. Only sports
// whose configured market maps to the requested source participate.
func (s *IngestionService) pullSubPeriod(ctx context.Context, source models.MarketPeriod, report *models.RunReport) ([]models.RawRecord, error) {
	var raw []models.RawRecord
	for _, sport := range s.cfg.Sports {
		marketKey, ok := s.cfg.PeriodMarkets[sport]
		if !ok {
			continue
		}
		if period, ok := normalizer.PeriodForMarketKey(marketKey); !ok || period != source {
			continue
		}

		events, err := s.provider.FetchEventList(ctx, sport)
		if err != nil {
			if provider.IsBudgetExceeded(err) {
				report.Sports = append(report.Sports, models.SportRunReport{SportKey: sport, Error: err.Error()})
				return nil, err
			}
			s.logger.Warn().Err(err).Str("sport", sport).Msg("event list pull failed, continuing run")
			report.Sports = append(report.Sports, models.SportRunReport{SportKey: sport, Error: err.Error()})
			continue
		}
		if s.cfg.MaxEventsPerSport > 0 && len(events) > s.cfg.MaxEventsPerSport {
			events = events[:s.cfg.MaxEventsPerSport]
		}

		sportReport := models.SportRunReport{SportKey: sport, Events: len(events)}
		for _, ev := range events {
			rows, err := s.provider.FetchEventQuotes(ctx, sport, ev.ID, marketKey)
			if err != nil {
				if provider.IsBudgetExceeded(err) {
					sportReport.Error = err.Error()
					report.Sports = append(report.Sports, sportReport)
					return nil, err
				}
				s.logger.Warn().Err(err).
					Str("sport", sport).
					Str("event_id", ev.ID).
					Str("market", marketKey).
					Msg("event pull failed, continuing run")
				continue
			}
			raw = append(raw, rows...)
			sportReport.RawRows += len(rows)
		}
		report.Sports = append(report.Sports, sportReport)
	}
	return raw, nil
}
