package normalizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// SchemaError means the raw table is missing columns the detected schema
// variant requires. Normalization of the whole table is aborted.
type SchemaError struct {
	Variant string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("raw quote table (%s schema) missing columns: %s",
		e.Variant, strings.Join(e.Missing, ", "))
}

// schemaVariant is an enumerated raw table shape. Detection is by column
// presence in a fixed order; ambiguous tables fall back to the long form.
type schemaVariant int

const (
	schemaLong schemaVariant = iota // one row per event+book+outcome
	schemaWide                      // one row per event+book with both prices
)

func (v schemaVariant) String() string {
	if v == schemaWide {
		return "wide"
	}
	return "long"
}

// identityColumns are required by every variant.
var identityColumns = []string{
	"event_id", "sport_key", "commence_time", "home_team", "away_team",
	"book_key", "market_key", "last_update",
}

var (
	longColumns = []string{"outcome_name", "price"}
	wideColumns = []string{"home_price", "away_price"}
)

// marketPeriodByKey maps provider market identifiers onto canonical
// market-periods. Unmapped identifiers are dropped silently; providers add
// markets over time.
var marketPeriodByKey = map[string]models.MarketPeriod{
	"h2h":               models.MarketPeriodFullGame,
	"moneyline":         models.MarketPeriodFullGame,
	"ml":                models.MarketPeriodFullGame,
	"h2h_h1":            models.MarketPeriodFirstHalf,
	"h2h_1h":            models.MarketPeriodFirstHalf,
	"h2h_first_half":    models.MarketPeriodFirstHalf,
	"h2h_1st_5_innings": models.MarketPeriodFirstFiveInnings,
	"f5":                models.MarketPeriodFirstFiveInnings,
	"ml_f5":             models.MarketPeriodFirstFiveInnings,
}

// sideTokens resolve outcome labels that name a side rather than a team.
// Labels drift across market-periods, so period-prefixed forms are included.
var sideTokens = map[string]models.Side{
	"home":                 models.SideHome,
	"away":                 models.SideAway,
	"1st half home":        models.SideHome,
	"1st half away":        models.SideAway,
	"first half home":      models.SideHome,
	"first half away":      models.SideAway,
	"f5 home":              models.SideHome,
	"f5 away":              models.SideAway,
	"first 5 innings home": models.SideHome,
	"first 5 innings away": models.SideAway,
}

// PeriodForMarketKey maps a provider market identifier to its canonical
// market-period.
func PeriodForMarketKey(key string) (models.MarketPeriod, bool) {
	period, ok := marketPeriodByKey[strings.ToLower(key)]
	return period, ok
}

// Normalizer converts heterogeneous raw quote tables into canonical quotes.
type Normalizer struct {
	logger zerolog.Logger
}

// NewNormalizer creates a new odds normalizer.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize converts raw rows into canonical quotes, keeping only rows whose
// market maps to one of the target periods (all periods when targets is
// empty). Rows with an unresolvable side or a non-numeric price are dropped.
func (n *Normalizer) Normalize(rows []models.RawRecord, targets []models.MarketPeriod) ([]models.CanonicalQuote, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	columns := columnSet(rows)
	variant := detectSchema(columns)
	if err := validateColumns(columns, variant); err != nil {
		return nil, err
	}

	wanted := make(map[models.MarketPeriod]bool, len(targets))
	for _, t := range targets {
		wanted[t] = true
	}

	var (
		quotes     []models.CanonicalQuote
		dropped    int
		unmapped   int
		unresolved int
	)
	for _, row := range rows {
		period, ok := marketPeriodByKey[strings.ToLower(stringField(row, "market_key"))]
		if !ok {
			unmapped++
			continue
		}
		if len(wanted) > 0 && !wanted[period] {
			unmapped++
			continue
		}

		base := models.CanonicalQuote{
			EventID:      stringField(row, "event_id"),
			SportKey:     stringField(row, "sport_key"),
			CommenceTime: stringField(row, "commence_time"),
			HomeTeam:     stringField(row, "home_team"),
			AwayTeam:     stringField(row, "away_team"),
			BookKey:      stringField(row, "book_key"),
			BookTitle:    stringField(row, "book_title"),
			MarketPeriod: period,
			ObservedAt:   stringField(row, "last_update"),
		}

		switch variant {
		case schemaWide:
			for _, side := range []struct {
				side   models.Side
				column string
			}{
				{models.SideHome, "home_price"},
				{models.SideAway, "away_price"},
			} {
				price, ok := coercePrice(row[side.column])
				if !ok {
					dropped++
					continue
				}
				q := base
				q.Side = side.side
				q.AmericanPrice = price
				quotes = append(quotes, q)
			}

		default: // schemaLong
			side := resolveSide(stringField(row, "outcome_name"), base.HomeTeam, base.AwayTeam)
			if side == models.SideUnresolved {
				unresolved++
				continue
			}
			price, ok := coercePrice(row["price"])
			if !ok {
				dropped++
				continue
			}
			q := base
			q.Side = side
			q.AmericanPrice = price
			quotes = append(quotes, q)
		}
	}

	n.logger.Info().
		Str("schema", variant.String()).
		Int("input_rows", len(rows)).
		Int("quotes", len(quotes)).
		Int("unmapped_market", unmapped).
		Int("unresolved_side", unresolved).
		Int("bad_price", dropped).
		Msg("normalized raw quote table")

	return quotes, nil
}

// resolveSide maps an outcome label to home or away. Resolution order: known
// side token (case-insensitive), then exact team-name match, else unresolved.
func resolveSide(label, homeTeam, awayTeam string) models.Side {
	if side, ok := sideTokens[strings.ToLower(strings.TrimSpace(label))]; ok {
		return side
	}
	switch label {
	case homeTeam:
		return models.SideHome
	case awayTeam:
		return models.SideAway
	}
	return models.SideUnresolved
}

// coercePrice turns a raw price cell into a sign-significant integer
// American price. American prices are whole numbers, so fractional values
// are rejected along with anything non-numeric.
func coercePrice(v any) (int, bool) {
	var d decimal.Decimal
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		d = decimal.NewFromFloat(x)
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		d = parsed
	default:
		return 0, false
	}
	if !d.IsInteger() {
		return 0, false
	}
	return int(d.IntPart()), true
}

// columnSet is the union of keys across all rows.
func columnSet(rows []models.RawRecord) map[string]bool {
	columns := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			columns[k] = true
		}
	}
	return columns
}

// detectSchema picks the variant by column presence. Wide needs both price
// columns; anything else, including ambiguity, is treated as long form.
func detectSchema(columns map[string]bool) schemaVariant {
	if columns["outcome_name"] && columns["price"] {
		return schemaLong
	}
	if columns["home_price"] && columns["away_price"] {
		return schemaWide
	}
	return schemaLong
}

// validateColumns checks the detected variant's required columns.
func validateColumns(columns map[string]bool, variant schemaVariant) error {
	required := append([]string{}, identityColumns...)
	if variant == schemaWide {
		required = append(required, wideColumns...)
	} else {
		required = append(required, longColumns...)
	}

	var missing []string
	for _, col := range required {
		if !columns[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &SchemaError{Variant: variant.String(), Missing: missing}
	}
	return nil
}

// stringField reads a column as a string, tolerating absent cells.
func stringField(row models.RawRecord, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
