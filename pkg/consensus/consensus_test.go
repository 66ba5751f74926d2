package consensus

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// setupTestAggregator creates an aggregator with a silent logger
func setupTestAggregator() *Aggregator {
	return NewAggregator(zerolog.Nop())
}

// quote builds a canonical quote for aggregation tests
func quote(eventID, bookKey string, side models.Side, price int) models.CanonicalQuote {
	return models.CanonicalQuote{
		EventID:       eventID,
		SportKey:      "baseball_mlb",
		CommenceTime:  "2025-06-01T23:05:00Z",
		HomeTeam:      "New York Yankees",
		AwayTeam:      "Boston Red Sox",
		BookKey:       bookKey,
		BookTitle:     bookKey,
		Side:          side,
		AmericanPrice: price,
		MarketPeriod:  models.MarketPeriodFullGame,
		ObservedAt:    "2025-06-01T20:00:00Z",
	}
}

// TestAmericanToProbability tests the odds-to-probability conversion
func TestAmericanToProbability(t *testing.T) {
	tests := []struct {
		name  string
		price int
		want  float64
		ok    bool
	}{
		{name: "Even money positive", price: 100, want: 0.5, ok: true},
		{name: "Even money negative", price: -100, want: 0.5, ok: true},
		{name: "Plus 150", price: 150, want: 0.4, ok: true},
		{name: "Minus 150", price: -150, want: 0.6, ok: true},
		{name: "Plus 200", price: 200, want: 1.0 / 3.0, ok: true},
		{name: "Zero is undefined", price: 0, want: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AmericanToProbability(tt.price)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

// TestProbabilityToAmerican tests the probability-to-fair-odds conversion
func TestProbabilityToAmerican(t *testing.T) {
	tests := []struct {
		name string
		q    float64
		want float64
		ok   bool
	}{
		{name: "Coin flip", q: 0.5, want: 100, ok: true},
		{name: "Favorite", q: 0.6, want: -150, ok: true},
		{name: "Underdog", q: 0.4, want: 150, ok: true},
		{name: "Zero is undefined", q: 0, ok: false},
		{name: "One is undefined", q: 1, ok: false},
		{name: "Negative is undefined", q: -0.1, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ProbabilityToAmerican(tt.q)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

// TestRoundTrip tests that probability -> odds -> probability is the identity
func TestRoundTrip(t *testing.T) {
	for _, q := range []float64{0.05, 0.25, 0.4, 0.5, 0.6, 0.75, 0.95} {
		odds, ok := ProbabilityToAmerican(q)
		require.True(t, ok)

		back, ok := AmericanToProbability(int(math.Round(odds)))
		require.True(t, ok)
		// Rounding to integer odds costs a little precision.
		assert.InDelta(t, q, back, 1e-3)
	}
}

// TestDevig tests pair normalization
func TestDevig(t *testing.T) {
	// -150 home / +130 away carries roughly 3.5% of margin.
	homeQ, ok := AmericanToProbability(-150)
	require.True(t, ok)
	awayQ, ok := AmericanToProbability(130)
	require.True(t, ok)
	require.Greater(t, homeQ+awayQ, 1.0)

	pair, ok := Devig(homeQ, awayQ)
	require.True(t, ok)
	assert.InDelta(t, 1.0, pair.HomeQ+pair.AwayQ, 1e-9)
	assert.Greater(t, pair.HomeQ, pair.AwayQ)
	// Normalization shrinks both sides when the raw pair exceeds 1.
	assert.Less(t, pair.HomeQ, homeQ)
	assert.Less(t, pair.AwayQ, awayQ)
}

// TestDevig_InvalidInputs tests devig rejection of out-of-range probabilities
func TestDevig_InvalidInputs(t *testing.T) {
	for _, pair := range [][2]float64{{0, 0.5}, {0.5, 0}, {1, 0.5}, {0.5, 1}, {-0.1, 0.5}} {
		_, ok := Devig(pair[0], pair[1])
		assert.False(t, ok)
	}
}

// TestArithmeticMean tests the default consensus reducer
func TestArithmeticMean(t *testing.T) {
	assert.Equal(t, 0.0, ArithmeticMean(nil))
	assert.InDelta(t, 0.5, ArithmeticMean([]float64{0.4, 0.6}), 1e-9)
	assert.InDelta(t, 0.2, ArithmeticMean([]float64{0.2}), 1e-9)
}

// TestAggregate_TwoBooks tests a two-book consensus over a vigged market
func TestAggregate_TwoBooks(t *testing.T) {
	agg := setupTestAggregator()

	quotes := []models.CanonicalQuote{
		quote("event-1", "draftkings", models.SideHome, -150),
		quote("event-1", "draftkings", models.SideAway, 130),
		quote("event-1", "fanduel", models.SideHome, -140),
		quote("event-1", "fanduel", models.SideAway, 120),
	}

	rows := agg.Aggregate(quotes, 2)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "event-1", row.EventID)
	assert.Equal(t, models.MarketPeriodFullGame, row.MarketPeriod)
	assert.Equal(t, 2, row.NumBooks)
	assert.Equal(t, []string{"draftkings", "fanduel"}, row.BooksUsed)
	assert.Len(t, row.Contributions, 2)
	assert.Equal(t, len(row.BooksUsed), row.NumBooks)

	// Consensus must land strictly between the two books' de-vigged views.
	dkHome, _ := AmericanToProbability(-150)
	dkAway, _ := AmericanToProbability(130)
	dk, _ := Devig(dkHome, dkAway)
	fdHome, _ := AmericanToProbability(-140)
	fdAway, _ := AmericanToProbability(120)
	fd, _ := Devig(fdHome, fdAway)

	lo, hi := math.Min(dk.HomeQ, fd.HomeQ), math.Max(dk.HomeQ, fd.HomeQ)
	assert.Greater(t, row.ConsensusHomeQ, lo)
	assert.Less(t, row.ConsensusHomeQ, hi)
	assert.InDelta(t, (dk.HomeQ+fd.HomeQ)/2, row.ConsensusHomeQ, 1e-9)
	assert.InDelta(t, 1.0, row.ConsensusHomeQ+row.ConsensusAwayQ, 1e-9)

	// Fair odds back out of the consensus probability.
	wantFair, ok := ProbabilityToAmerican(row.ConsensusHomeQ)
	require.True(t, ok)
	assert.InDelta(t, wantFair, row.ConsensusHomeFairOdds, 1e-9)
}

// TestAggregate_DepthGate tests that shallow events are dropped
func TestAggregate_DepthGate(t *testing.T) {
	agg := setupTestAggregator()

	quotes := []models.CanonicalQuote{
		quote("event-1", "draftkings", models.SideHome, -150),
		quote("event-1", "draftkings", models.SideAway, 130),
	}

	assert.Empty(t, agg.Aggregate(quotes, 2))
	assert.Len(t, agg.Aggregate(quotes, 1), 1)
}

// TestAggregate_OneSidedBookDropped tests that a lone side never contributes
func TestAggregate_OneSidedBookDropped(t *testing.T) {
	agg := setupTestAggregator()

	quotes := []models.CanonicalQuote{
		quote("event-1", "draftkings", models.SideHome, -150),
		quote("event-1", "draftkings", models.SideAway, 130),
		quote("event-1", "fanduel", models.SideHome, -140),
		quote("event-1", "betmgm", models.SideHome, -145),
	}

	rows := agg.Aggregate(quotes, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"draftkings"}, rows[0].BooksUsed)
	assert.Equal(t, 1, rows[0].NumBooks)
}

// TestAggregate_ZeroPriceDropped tests that an undefined price is excluded
func TestAggregate_ZeroPriceDropped(t *testing.T) {
	agg := setupTestAggregator()

	quotes := []models.CanonicalQuote{
		quote("event-1", "draftkings", models.SideHome, 0),
		quote("event-1", "draftkings", models.SideAway, 130),
	}

	assert.Empty(t, agg.Aggregate(quotes, 1))
}

// TestAggregate_EmptyInput tests aggregation over no quotes
func TestAggregate_EmptyInput(t *testing.T) {
	agg := setupTestAggregator()
	assert.Empty(t, agg.Aggregate(nil, 2))
}

// TestAggregate_Deterministic tests that repeated runs yield identical output
func TestAggregate_Deterministic(t *testing.T) {
	agg := setupTestAggregator()

	quotes := []models.CanonicalQuote{
		quote("event-2", "fanduel", models.SideAway, 120),
		quote("event-1", "draftkings", models.SideHome, -150),
		quote("event-2", "fanduel", models.SideHome, -140),
		quote("event-1", "draftkings", models.SideAway, 130),
		quote("event-2", "draftkings", models.SideHome, -135),
		quote("event-2", "draftkings", models.SideAway, 115),
	}

	first := agg.Aggregate(quotes, 1)
	second := agg.Aggregate(quotes, 1)
	assert.Equal(t, first, second)

	require.Len(t, first, 2)
	assert.Equal(t, "event-1", first[0].EventID)
	assert.Equal(t, "event-2", first[1].EventID)
}

// TestAggregate_PeriodsKeptSeparate tests that market periods never mix
func TestAggregate_PeriodsKeptSeparate(t *testing.T) {
	agg := setupTestAggregator()

	fullHome := quote("event-1", "draftkings", models.SideHome, -150)
	fullAway := quote("event-1", "draftkings", models.SideAway, 130)
	halfHome := quote("event-1", "draftkings", models.SideHome, -120)
	halfHome.MarketPeriod = models.MarketPeriodFirstHalf
	halfAway := quote("event-1", "draftkings", models.SideAway, 100)
	halfAway.MarketPeriod = models.MarketPeriodFirstHalf

	rows := agg.Aggregate([]models.CanonicalQuote{fullHome, fullAway, halfHome, halfAway}, 1)
	require.Len(t, rows, 2)
	assert.Equal(t, models.MarketPeriodFirstHalf, rows[0].MarketPeriod)
	assert.Equal(t, models.MarketPeriodFullGame, rows[1].MarketPeriod)
	assert.NotEqual(t, rows[0].ConsensusHomeQ, rows[1].ConsensusHomeQ)
}

// TestAggregate_LastUpdated tests that the freshest contribution wins
func TestAggregate_LastUpdated(t *testing.T) {
	agg := setupTestAggregator()

	older := quote("event-1", "draftkings", models.SideHome, -150)
	older.ObservedAt = "2025-06-01T19:00:00Z"
	newer := quote("event-1", "draftkings", models.SideAway, 130)
	newer.ObservedAt = "2025-06-01T20:30:00Z"

	rows := agg.Aggregate([]models.CanonicalQuote{older, newer}, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-06-01T20:30:00Z", rows[0].LastUpdatedUTC)
}

// TestWithMeanFunc tests swapping the consensus reducer
func TestWithMeanFunc(t *testing.T) {
	agg := NewAggregator(zerolog.Nop(), WithMeanFunc(func(values []float64) float64 {
		// Max instead of mean.
		var max float64
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return max
	}))

	quotes := []models.CanonicalQuote{
		quote("event-1", "draftkings", models.SideHome, -150),
		quote("event-1", "draftkings", models.SideAway, 130),
		quote("event-1", "fanduel", models.SideHome, -140),
		quote("event-1", "fanduel", models.SideAway, 120),
	}

	rows := agg.Aggregate(quotes, 2)
	require.Len(t, rows, 1)

	dkHome, _ := AmericanToProbability(-150)
	dkAway, _ := AmericanToProbability(130)
	dk, _ := Devig(dkHome, dkAway)
	assert.InDelta(t, dk.HomeQ, rows[0].ConsensusHomeQ, 1e-9)
}
