package service

import (
	"context"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mocks/mocks.go -package=mocks

// Provider abstracts the metered odds provider client.
type Provider interface {
	FetchEventList(ctx context.Context, sport string) ([]models.Event, error)
	FetchQuotes(ctx context.Context, sport string, marketKeys []string) ([]models.RawRecord, error)
	FetchEventQuotes(ctx context.Context, sport, eventID, marketKey string) ([]models.RawRecord, error)
}

// Normalizer abstracts raw table normalization.
type Normalizer interface {
	Normalize(rows []models.RawRecord, targets []models.MarketPeriod) ([]models.CanonicalQuote, error)
}

// Aggregator abstracts consensus baseline construction.
type Aggregator interface {
	Aggregate(quotes []models.CanonicalQuote, minBooks int) []models.BaselineRow
}

// BaselineStore abstracts snapshot persistence.
type BaselineStore interface {
	Save(snapshot *models.BaselineSnapshot) error
	Load(source models.MarketPeriod) (*models.BaselineSnapshot, string)
}

// Publisher abstracts the baseline refresh announcement.
type Publisher interface {
	PublishRefresh(ctx context.Context, msg models.BaselineRefreshMessage) error
}
