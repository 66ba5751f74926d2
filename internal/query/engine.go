package query

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/config"
	"github.com/cypherlabdev/odds-consensus-service/internal/metrics"
	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// BaselineLoader loads the persisted snapshot for a source. A missing or
// unreadable snapshot is reported as a nil snapshot plus note, not an error.
type BaselineLoader interface {
	Load(source models.MarketPeriod) (*models.BaselineSnapshot, string)
}

// Filters are per-request overrides. Nil fields fall back to the configured
// defaults for the requested source and sport.
type Filters struct {
	SportKey          string
	AllowedBooks      []string
	MinConsensusDepth *int
	MaxAgeMinutes     *int
	MinAbsEdge        *float64
	Limit             *int
}

// PicksResult is the query engine's answer. Picks is never nil; an empty
// result always carries a non-empty note.
type PicksResult struct {
	Picks []models.RankedPick `json:"picks"`
	Note  string              `json:"note,omitempty"`
}

// Engine serves ranked edge picks from persisted baselines. It is read-only
// and safe for unlimited concurrent callers.
type Engine struct {
	store  BaselineLoader
	cfg    config.QueryConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewEngine creates an edge query engine.
func NewEngine(store BaselineLoader, cfg config.QueryConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "query_engine").Logger(),
	}
}

// QueryPicks loads the baseline for a source, applies filters in order
// (sport, book allowlist, consensus depth, freshness, edge magnitude) and
// returns picks ranked by descending absolute edge, ties broken by earlier
// commence time, truncated to the limit.
func (e *Engine) QueryPicks(source models.MarketPeriod, f Filters) PicksResult {
	metrics.PicksRequests.WithLabelValues(string(source)).Inc()

	snapshot, note := e.store.Load(source)
	if snapshot == nil {
		return PicksResult{Picks: []models.RankedPick{}, Note: note}
	}
	if len(snapshot.Rows) == 0 {
		return PicksResult{Picks: []models.RankedPick{}, Note: fmt.Sprintf("baseline for source %q has no rows", source)}
	}

	defaults := e.cfg.Resolve(source, f.SportKey)
	minDepth := defaults.MinConsensusBooks
	if f.MinConsensusDepth != nil {
		minDepth = *f.MinConsensusDepth
	}
	maxAge := defaults.MaxAgeMinutes
	if f.MaxAgeMinutes != nil {
		maxAge = *f.MaxAgeMinutes
	}
	minAbsEdge := defaults.MinAbsEdge
	if f.MinAbsEdge != nil {
		minAbsEdge = clamp(*f.MinAbsEdge, 0, 1)
	}
	allowedBooks := defaults.AllowedBooks
	if len(f.AllowedBooks) > 0 {
		allowedBooks = f.AllowedBooks
	}
	limit := defaults.Limit
	if f.Limit != nil && *f.Limit > 0 {
		limit = *f.Limit
	}
	if defaults.MaxLimit > 0 && limit > defaults.MaxLimit {
		limit = defaults.MaxLimit
	}

	allowed := make(map[string]bool, len(allowedBooks))
	for _, b := range allowedBooks {
		allowed[b] = true
	}

	now := e.now().UTC()
	var picks []models.RankedPick
	for i := range snapshot.Rows {
		row := &snapshot.Rows[i]
		if f.SportKey != "" && row.SportKey != f.SportKey {
			continue
		}

		depth := row.NumBooks
		if depth == 0 {
			depth = distinctBooks(row.Contributions)
		}
		if depth < minDepth {
			continue
		}

		// Freshness is only enforced when the timestamp parses; a bad
		// timestamp must not reject the row.
		if maxAge > 0 {
			if ts, err := time.Parse(time.RFC3339, row.LastUpdatedUTC); err == nil {
				if now.Sub(ts) > time.Duration(maxAge)*time.Minute {
					continue
				}
			}
		}

		for _, c := range row.Contributions {
			if len(allowed) > 0 && !allowed[c.BookKey] {
				continue
			}
			edge := row.ConsensusHomeQ - c.HomeQ
			if math.Abs(edge) < minAbsEdge {
				continue
			}
			picks = append(picks, models.RankedPick{
				EventID:        row.EventID,
				SportKey:       row.SportKey,
				CommenceTime:   row.CommenceTime,
				HomeTeam:       row.HomeTeam,
				AwayTeam:       row.AwayTeam,
				MarketPeriod:   row.MarketPeriod,
				BookKey:        c.BookKey,
				BookHomeQ:      c.HomeQ,
				ConsensusHomeQ: row.ConsensusHomeQ,
				Edge:           edge,
				NumBooks:       depth,
			})
		}
	}

	if len(picks) == 0 {
		return PicksResult{Picks: []models.RankedPick{}, Note: "no picks matched the requested filters"}
	}

	sort.SliceStable(picks, func(i, j int) bool {
		ai, aj := math.Abs(picks[i].Edge), math.Abs(picks[j].Edge)
		if ai != aj {
			return ai > aj
		}
		return earlierCommence(picks[i].CommenceTime, picks[j].CommenceTime)
	})
	if len(picks) > limit {
		picks = picks[:limit]
	}

	e.logger.Debug().
		Str("source", string(source)).
		Str("sport", f.SportKey).
		Float64("min_abs_edge", minAbsEdge).
		Int("picks", len(picks)).
		Msg("served edge picks")

	return PicksResult{Picks: picks}
}

// earlierCommence orders RFC3339 commence times; unparseable values sort
// last, falling back to string order when both are unparseable.
func earlierCommence(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	switch {
	case errA == nil && errB == nil:
		return ta.Before(tb)
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// distinctBooks counts distinct contributing books.
func distinctBooks(contribs []models.BookContribution) int {
	seen := make(map[string]bool, len(contribs))
	for _, c := range contribs {
		seen[c.BookKey] = true
	}
	return len(seen)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
