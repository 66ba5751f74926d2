package consensus

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// DevigPair is a (home, away) probability pair from one book, normalized so
// the two sides sum to 1.
type DevigPair struct {
	HomeQ float64
	AwayQ float64
}

// MeanFunc reduces the de-vigged home probabilities of contributing books to
// a single consensus value. The default is the unweighted arithmetic mean.
type MeanFunc func(values []float64) float64

// ArithmeticMean is the default consensus reducer.
func ArithmeticMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Aggregator builds no-vig consensus baselines from canonical quotes.
type Aggregator struct {
	mean   MeanFunc
	logger zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMeanFunc replaces the consensus reducer.
func WithMeanFunc(f MeanFunc) Option {
	return func(a *Aggregator) { a.mean = f }
}

// NewAggregator creates a new consensus aggregator.
func NewAggregator(logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		mean:   ArithmeticMean,
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AmericanToProbability converts American odds to an implied probability.
// Positive odds: 100/(odds+100). Negative odds: |odds|/(|odds|+100).
// A price of exactly 0 has no defined probability; ok is false and the
// caller must drop the quote.
func AmericanToProbability(price int) (float64, bool) {
	if price > 0 {
		return 100.0 / (float64(price) + 100.0), true
	}
	if price < 0 {
		abs := float64(-price)
		return abs / (abs + 100.0), true
	}
	return 0, false
}

// ProbabilityToAmerican converts a probability to fair American odds via the
// decimal form d = 1/q. Undefined outside (0, 1).
func ProbabilityToAmerican(q float64) (float64, bool) {
	if q <= 0 || q >= 1 {
		return 0, false
	}
	d := 1.0 / q
	if d >= 2.0 {
		return (d - 1.0) * 100.0, true
	}
	return -100.0 / (d - 1.0), true
}

// Devig normalizes a two-sided implied probability pair so it sums to 1,
// recovering the book's fair view net of margin. Both inputs must be valid
// probabilities; ok is false otherwise.
func Devig(homeQ, awayQ float64) (DevigPair, bool) {
	if homeQ <= 0 || homeQ >= 1 || awayQ <= 0 || awayQ >= 1 {
		return DevigPair{}, false
	}
	total := homeQ + awayQ
	return DevigPair{HomeQ: homeQ / total, AwayQ: awayQ / total}, true
}

// eventKey groups quotes per (event, market-period).
type eventKey struct {
	eventID string
	period  models.MarketPeriod
}

// pairKey groups quotes per (event, book, market-period).
type pairKey struct {
	eventID string
	bookKey string
	period  models.MarketPeriod
}

// sidedQuote holds the two sides of one book's market while pairing.
type sidedQuote struct {
	home *models.CanonicalQuote
	away *models.CanonicalQuote
}

// Aggregate builds one BaselineRow per (event, market-period) from canonical
// quotes. Quotes without a valid implied probability are excluded, as are
// one-sided book markets (a lone side cannot be de-vigged). Events with fewer
// than minBooks contributing books are dropped. Output is deterministic for
// a given input: rows are sorted and no wall clock is consulted.
func (a *Aggregator) Aggregate(quotes []models.CanonicalQuote, minBooks int) []models.BaselineRow {
	pairs := make(map[pairKey]*sidedQuote)
	for i := range quotes {
		q := &quotes[i]
		if q.Side != models.SideHome && q.Side != models.SideAway {
			continue
		}
		if _, ok := AmericanToProbability(q.AmericanPrice); !ok {
			continue
		}
		key := pairKey{eventID: q.EventID, bookKey: q.BookKey, period: q.MarketPeriod}
		sq := pairs[key]
		if sq == nil {
			sq = &sidedQuote{}
			pairs[key] = sq
		}
		if q.Side == models.SideHome {
			sq.home = q
		} else {
			sq.away = q
		}
	}

	type contributor struct {
		pair models.BookContribution
		meta *models.CanonicalQuote
	}
	byEvent := make(map[eventKey][]contributor)
	for key, sq := range pairs {
		if sq.home == nil || sq.away == nil {
			continue
		}
		homeQ, _ := AmericanToProbability(sq.home.AmericanPrice)
		awayQ, _ := AmericanToProbability(sq.away.AmericanPrice)
		devigged, ok := Devig(homeQ, awayQ)
		if !ok {
			continue
		}
		observed := laterTimestamp(sq.home.ObservedAt, sq.away.ObservedAt)
		ek := eventKey{eventID: key.eventID, period: key.period}
		byEvent[ek] = append(byEvent[ek], contributor{
			pair: models.BookContribution{
				BookKey:    key.bookKey,
				HomeQ:      devigged.HomeQ,
				AwayQ:      devigged.AwayQ,
				ObservedAt: observed,
			},
			meta: sq.home,
		})
	}

	rows := make([]models.BaselineRow, 0, len(byEvent))
	for _, contributors := range byEvent {
		sort.Slice(contributors, func(i, j int) bool {
			return contributors[i].pair.BookKey < contributors[j].pair.BookKey
		})

		homeQs := make([]float64, 0, len(contributors))
		awayQs := make([]float64, 0, len(contributors))
		books := make([]string, 0, len(contributors))
		contribs := make([]models.BookContribution, 0, len(contributors))
		lastUpdated := ""
		for _, c := range contributors {
			homeQs = append(homeQs, c.pair.HomeQ)
			awayQs = append(awayQs, c.pair.AwayQ)
			books = append(books, c.pair.BookKey)
			contribs = append(contribs, c.pair)
			lastUpdated = laterTimestamp(lastUpdated, c.pair.ObservedAt)
		}

		if len(books) < minBooks {
			continue
		}

		meta := contributors[0].meta
		consensusHome := a.mean(homeQs)
		consensusAway := a.mean(awayQs)
		homeFair, _ := ProbabilityToAmerican(consensusHome)
		awayFair, _ := ProbabilityToAmerican(consensusAway)

		rows = append(rows, models.BaselineRow{
			EventID:               meta.EventID,
			SportKey:              meta.SportKey,
			CommenceTime:          meta.CommenceTime,
			HomeTeam:              meta.HomeTeam,
			AwayTeam:              meta.AwayTeam,
			MarketPeriod:          meta.MarketPeriod,
			ConsensusHomeQ:        consensusHome,
			ConsensusAwayQ:        consensusAway,
			ConsensusHomeFairOdds: homeFair,
			ConsensusAwayFairOdds: awayFair,
			NumBooks:              len(books),
			BooksUsed:             books,
			LastUpdatedUTC:        lastUpdated,
			Contributions:         contribs,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EventID != rows[j].EventID {
			return rows[i].EventID < rows[j].EventID
		}
		return rows[i].MarketPeriod < rows[j].MarketPeriod
	})

	a.logger.Info().
		Int("input_quotes", len(quotes)).
		Int("baseline_rows", len(rows)).
		Int("min_books", minBooks).
		Msg("aggregated consensus baseline")

	return rows
}

// laterTimestamp returns the later of two RFC3339 timestamps. Unparseable
// values lose to parseable ones; two unparseable values compare as strings.
func laterTimestamp(a, b string) string {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	switch {
	case errA == nil && errB == nil:
		if tb.After(ta) {
			return b
		}
		return a
	case errA == nil:
		return a
	case errB == nil:
		return b
	default:
		if b > a {
			return b
		}
		return a
	}
}
