package models

import (
	"time"

	"github.com/google/uuid"
)

// MarketPeriod is the temporal scope of a wagering market.
type MarketPeriod string

const (
	MarketPeriodFullGame         MarketPeriod = "full_game"
	MarketPeriodFirstHalf        MarketPeriod = "first_half"
	MarketPeriodFirstFiveInnings MarketPeriod = "first_five_innings"
)

// ParseMarketPeriod maps a source identifier to a MarketPeriod.
func ParseMarketPeriod(s string) (MarketPeriod, bool) {
	switch MarketPeriod(s) {
	case MarketPeriodFullGame, MarketPeriodFirstHalf, MarketPeriodFirstFiveInnings:
		return MarketPeriod(s), true
	}
	return "", false
}

// Side identifies which team an outcome was quoted for.
type Side string

const (
	SideHome       Side = "home"
	SideAway       Side = "away"
	SideUnresolved Side = ""
)

// RawRecord is one row of a raw quote table before normalization.
// Raw tables arrive in heterogeneous shapes (wide or long), so rows are
// generic column->value maps until the normalizer resolves a schema.
type RawRecord map[string]any

// Event is one upcoming sporting event as listed by the provider.
type Event struct {
	ID           string `json:"id"`
	SportKey     string `json:"sport_key"`
	CommenceTime string `json:"commence_time"`
	HomeTeam     string `json:"home_team"`
	AwayTeam     string `json:"away_team"`
}

// CanonicalQuote is one book's priced outcome for one event and
// market-period after normalization. A quote only reaches this form once
// its side is resolved and its price coerced to a sign-significant integer.
type CanonicalQuote struct {
	EventID       string       `json:"event_id"`
	SportKey      string       `json:"sport_key"`
	CommenceTime  string       `json:"commence_time"`
	HomeTeam      string       `json:"home_team"`
	AwayTeam      string       `json:"away_team"`
	BookKey       string       `json:"book_key"`
	BookTitle     string       `json:"book_title"`
	Side          Side         `json:"side"`
	AmericanPrice int          `json:"american_price"`
	MarketPeriod  MarketPeriod `json:"market_period"`
	ObservedAt    string       `json:"observed_at"` // book's last_update, RFC3339
}

// BookContribution is one book's de-vigged probability pair for an event.
// Contributions are embedded in the baseline so the query engine can compute
// per-book edges against the consensus.
type BookContribution struct {
	BookKey    string  `json:"book_key"`
	HomeQ      float64 `json:"home_q"`
	AwayQ      float64 `json:"away_q"`
	ObservedAt string  `json:"observed_at"`
}

// BaselineRow is the per-(event, market-period) consensus record.
type BaselineRow struct {
	EventID               string             `json:"event_id"`
	SportKey              string             `json:"sport_key"`
	CommenceTime          string             `json:"commence_time"`
	HomeTeam              string             `json:"home_team"`
	AwayTeam              string             `json:"away_team"`
	MarketPeriod          MarketPeriod       `json:"market_period"`
	ConsensusHomeQ        float64            `json:"consensus_home_q"`
	ConsensusAwayQ        float64            `json:"consensus_away_q"`
	ConsensusHomeFairOdds float64            `json:"consensus_home_fair_odds"`
	ConsensusAwayFairOdds float64            `json:"consensus_away_fair_odds"`
	NumBooks              int                `json:"num_books"`
	BooksUsed             []string           `json:"books_used"`
	LastUpdatedUTC        string             `json:"last_updated_utc"`
	Contributions         []BookContribution `json:"contributions"`
}

// BaselineSnapshot is the durable artifact of one ingestion run. It replaces
// the previous snapshot for its source wholesale.
type BaselineSnapshot struct {
	Source      MarketPeriod  `json:"source"`
	BatchID     uuid.UUID     `json:"batch_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Rows        []BaselineRow `json:"rows"`
}

// RankedPick is one book quote that deviates from consensus.
// Edge is signed: consensus_home_q - book_home_q, so a positive edge means
// the book's home price implies a lower probability than consensus.
type RankedPick struct {
	EventID        string       `json:"event_id"`
	SportKey       string       `json:"sport_key"`
	CommenceTime   string       `json:"commence_time"`
	HomeTeam       string       `json:"home_team"`
	AwayTeam       string       `json:"away_team"`
	MarketPeriod   MarketPeriod `json:"market_period"`
	BookKey        string       `json:"book_key"`
	BookHomeQ      float64      `json:"book_home_q"`
	ConsensusHomeQ float64      `json:"consensus_home_q"`
	Edge           float64      `json:"edge"`
	NumBooks       int          `json:"num_books"`
}

// QuotaStatus reports current provider-call budget usage.
type QuotaStatus struct {
	Date      string `json:"date"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// SportRunReport records the outcome of one sport within an ingestion run.
type SportRunReport struct {
	SportKey string `json:"sport_key"`
	RawRows  int    `json:"raw_rows"`
	Events   int    `json:"events,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	BatchID      uuid.UUID        `json:"batch_id"`
	Source       MarketPeriod     `json:"source"`
	StartedAt    time.Time        `json:"started_at"`
	Duration     time.Duration    `json:"duration"`
	Sports       []SportRunReport `json:"sports"`
	RawRows      int              `json:"raw_rows"`
	QuoteRows    int              `json:"quote_rows"`
	BaselineRows int              `json:"baseline_rows"`
	Published    bool             `json:"published"`
}

// BaselineRefreshMessage is the Kafka message emitted after each successful
// ingestion run.
type BaselineRefreshMessage struct {
	BatchID     uuid.UUID     `json:"batch_id"`
	Source      MarketPeriod  `json:"source"`
	GeneratedAt time.Time     `json:"generated_at"`
	Rows        []BaselineRow `json:"rows"`
}
