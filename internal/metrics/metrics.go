package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCalls counts outbound provider calls by sport and outcome
	// (ok, http_error, transport_error, budget_denied).
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odds_consensus_provider_calls_total",
		Help: "Outbound odds provider calls.",
	}, []string{"sport", "outcome"})

	// QuotaUsed reports today's provider-call count.
	QuotaUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "odds_consensus_quota_used",
		Help: "Provider calls charged against today's budget.",
	})

	// BaselineRows reports rows in the latest persisted baseline per source.
	BaselineRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odds_consensus_baseline_rows",
		Help: "Rows in the latest persisted consensus baseline.",
	}, []string{"source"})

	// IngestionRuns counts ingestion runs by source and status.
	IngestionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odds_consensus_ingestion_runs_total",
		Help: "Ingestion runs by outcome.",
	}, []string{"source", "status"})

	// PicksRequests counts edge queries served.
	PicksRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odds_consensus_picks_requests_total",
		Help: "Edge pick queries served.",
	}, []string{"source"})
)
