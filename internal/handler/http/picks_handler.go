package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
	"github.com/cypherlabdev/odds-consensus-service/internal/normalizer"
	"github.com/cypherlabdev/odds-consensus-service/internal/provider"
	"github.com/cypherlabdev/odds-consensus-service/internal/query"
)

// PicksEngine serves ranked edge picks.
type PicksEngine interface {
	QueryPicks(source models.MarketPeriod, f query.Filters) query.PicksResult
}

// Refresher runs one ingestion batch for a source.
type Refresher interface {
	Refresh(ctx context.Context, source models.MarketPeriod) (*models.RunReport, error)
}

// QuotaReporter reports today's provider-call budget usage.
type QuotaReporter interface {
	Status(ctx context.Context) models.QuotaStatus
}

// PicksHandler handles HTTP requests for edge picks, refresh runs and quota
// status.
type PicksHandler struct {
	engine     PicksEngine
	refresher  Refresher
	quota      QuotaReporter
	adminToken string
	logger     zerolog.Logger
}

// NewPicksHandler creates a new picks HTTP handler
func NewPicksHandler(engine PicksEngine, refresher Refresher, quota QuotaReporter, adminToken string, logger zerolog.Logger) *PicksHandler {
	return &PicksHandler{
		engine:     engine,
		refresher:  refresher,
		quota:      quota,
		adminToken: adminToken,
		logger:     logger.With().Str("component", "picks_handler").Logger(),
	}
}

// RegisterRoutes registers HTTP routes with the provided mux
func (h *PicksHandler) RegisterRoutes(mux *http.ServeMux) {
	// GET /api/v1/picks - ranked edge picks for a source
	mux.HandleFunc("/api/v1/picks", h.handleGetPicks)

	// POST /api/v1/refresh - run one ingestion batch (admin)
	mux.HandleFunc("/api/v1/refresh", h.handleRefresh)

	// GET /api/v1/quota - today's provider-call budget usage
	mux.HandleFunc("/api/v1/quota", h.handleQuota)
}

// sourceAliases tolerate the short names callers historically used.
var sourceAliases = map[string]models.MarketPeriod{
	"fullgame":  models.MarketPeriodFullGame,
	"firsthalf": models.MarketPeriodFirstHalf,
	"f5":        models.MarketPeriodFirstFiveInnings,
}

// parseSource resolves the source query parameter, defaulting to full game.
func parseSource(raw string) (models.MarketPeriod, bool) {
	if raw == "" {
		return models.MarketPeriodFullGame, true
	}
	if period, ok := models.ParseMarketPeriod(raw); ok {
		return period, true
	}
	if period, ok := sourceAliases[strings.ToLower(raw)]; ok {
		return period, true
	}
	return "", false
}

// handleGetPicks handles GET /api/v1/picks
func (h *PicksHandler) handleGetPicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	source, ok := parseSource(q.Get("source"))
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid source: expected full_game, first_half or first_five_innings")
		return
	}

	filters := query.Filters{SportKey: q.Get("sport")}

	if raw := q.Get("min_abs_edge"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			h.errorResponse(w, http.StatusBadRequest, "min_abs_edge must be a number between 0 and 1")
			return
		}
		filters.MinAbsEdge = &v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filters.Limit = &v
	}
	if raw := q.Get("min_books"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.errorResponse(w, http.StatusBadRequest, "min_books must be a positive integer")
			return
		}
		filters.MinConsensusDepth = &v
	}
	if raw := q.Get("max_age_min"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.errorResponse(w, http.StatusBadRequest, "max_age_min must be a non-negative integer")
			return
		}
		filters.MaxAgeMinutes = &v
	}
	if raw := q.Get("books"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				filters.AllowedBooks = append(filters.AllowedBooks, b)
			}
		}
	}

	result := h.engine.QueryPicks(source, filters)
	h.jsonResponse(w, http.StatusOK, result)
}

// handleRefresh handles POST /api/v1/refresh
func (h *PicksHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.adminToken == "" || r.Header.Get("X-Admin-Token") != h.adminToken {
		h.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	source, ok := parseSource(r.URL.Query().Get("source"))
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid source: expected full_game, first_half or first_five_innings")
		return
	}

	report, err := h.refresher.Refresh(r.Context(), source)
	if err != nil {
		var budgetErr *provider.BudgetExceededError
		var schemaErr *normalizer.SchemaError
		switch {
		case errors.As(err, &budgetErr):
			h.logger.Warn().Err(err).Str("source", string(source)).Msg("refresh denied by budget")
			h.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
				"error":  budgetErr.Error(),
				"quota":  budgetErr.Status,
				"report": report,
			})
		case errors.As(err, &schemaErr):
			h.logger.Error().Err(err).Str("source", string(source)).Msg("refresh failed on raw schema")
			h.jsonResponse(w, http.StatusBadGateway, map[string]any{
				"error":           schemaErr.Error(),
				"missing_columns": schemaErr.Missing,
				"report":          report,
			})
		default:
			h.logger.Error().Err(err).Str("source", string(source)).Msg("refresh failed")
			h.jsonResponse(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"report": report,
			})
		}
		return
	}

	h.jsonResponse(w, http.StatusOK, report)
}

// handleQuota handles GET /api/v1/quota
func (h *PicksHandler) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.jsonResponse(w, http.StatusOK, h.quota.Status(r.Context()))
}

// jsonResponse writes a JSON response
func (h *PicksHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes a JSON error response
func (h *PicksHandler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
