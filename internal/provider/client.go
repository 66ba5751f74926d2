package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/metrics"
	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// QuotaAcquirer guards provider calls against the daily budget. Acquire
// atomically checks and charges, so concurrent refresh runs cannot jointly
// exceed the limit.
type QuotaAcquirer interface {
	Acquire(ctx context.Context, n int) (bool, models.QuotaStatus)
}

// Client issues metered calls against The Odds API v4. Every call consumes
// quota on receipt, so the budget is charged per attempt, not per success.
type Client struct {
	httpClient *http.Client
	host       string
	apiKey     string
	regions    string
	oddsFormat string
	quota      QuotaAcquirer

	// remainingFloor guards against quota consumed by other consumers of a
	// shared provider key. -1 in lastRemaining means no signal seen yet.
	remainingFloor int
	lastRemaining  atomic.Int64

	logger zerolog.Logger
}

// ClientConfig holds provider client configuration.
type ClientConfig struct {
	Host           string // e.g. "https://api.the-odds-api.com"
	APIKey         string
	Regions        string // e.g. "us,eu"
	OddsFormat     string // e.g. "american"
	Timeout        time.Duration
	RemainingFloor int // fail fast when provider-reported remaining drops below this
}

// NewClient creates a provider client. A missing API key is a fatal
// configuration error, raised before any network attempt.
func NewClient(config ClientConfig, quota QuotaAcquirer, logger zerolog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		httpClient:     &http.Client{Timeout: config.Timeout},
		host:           strings.TrimRight(config.Host, "/"),
		apiKey:         config.APIKey,
		regions:        config.Regions,
		oddsFormat:     config.OddsFormat,
		quota:          quota,
		remainingFloor: config.RemainingFloor,
		logger:         logger.With().Str("component", "provider_client").Logger(),
	}
	c.lastRemaining.Store(-1)
	return c, nil
}

// Sport is one sport listed by the provider.
type Sport struct {
	Key    string `json:"key"`
	Group  string `json:"group"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// oddsEvent is the provider's nested event payload.
type oddsEvent struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	CommenceTime string      `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []bookmaker `json:"bookmakers"`
}

type bookmaker struct {
	Key        string   `json:"key"`
	Title      string   `json:"title"`
	LastUpdate string   `json:"last_update"`
	Markets    []market `json:"markets"`
}

type market struct {
	Key      string    `json:"key"`
	Outcomes []outcome `json:"outcomes"`
}

type outcome struct {
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
	Point *float64    `json:"point,omitempty"`
}

// ListSports returns the provider's sport catalog.
func (c *Client) ListSports(ctx context.Context) ([]Sport, error) {
	var sports []Sport
	if err := c.get(ctx, "/v4/sports", "", nil, &sports); err != nil {
		return nil, err
	}
	return sports, nil
}

// FetchEventList enumerates upcoming events for a sport. It uses the cheap
// full-game moneyline endpoint, since the odds payload carries event
// identity either way.
func (c *Client) FetchEventList(ctx context.Context, sport string) ([]models.Event, error) {
	events, err := c.fetchOddsEvents(ctx, sport, []string{"h2h"})
	if err != nil {
		return nil, err
	}

	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		out = append(out, models.Event{
			ID:           ev.ID,
			SportKey:     ev.SportKey,
			CommenceTime: ev.CommenceTime,
			HomeTeam:     ev.HomeTeam,
			AwayTeam:     ev.AwayTeam,
		})
	}
	return out, nil
}

// FetchQuotes pulls quotes for all upcoming events of a sport across the
// given market keys, flattened to long-form raw records.
func (c *Client) FetchQuotes(ctx context.Context, sport string, marketKeys []string) ([]models.RawRecord, error) {
	events, err := c.fetchOddsEvents(ctx, sport, marketKeys)
	if err != nil {
		return nil, err
	}

	var rows []models.RawRecord
	for i := range events {
		rows = append(rows, flattenEvent(&events[i], sport)...)
	}
	return rows, nil
}

// FetchEventQuotes pulls quotes for one event and one market key, flattened
// to long-form raw records. Sub-period markets are only served per event.
func (c *Client) FetchEventQuotes(ctx context.Context, sport, eventID, marketKey string) ([]models.RawRecord, error) {
	endpoint := fmt.Sprintf("/v4/sports/%s/events/%s/odds", sport, eventID)
	params := url.Values{}
	params.Set("regions", c.regions)
	params.Set("markets", marketKey)
	params.Set("oddsFormat", c.oddsFormat)
	params.Set("dateFormat", "iso")

	var ev oddsEvent
	if err := c.get(ctx, endpoint, sport, params, &ev); err != nil {
		return nil, err
	}
	return flattenEvent(&ev, sport), nil
}

// fetchOddsEvents performs a sport-wide odds call.
func (c *Client) fetchOddsEvents(ctx context.Context, sport string, marketKeys []string) ([]oddsEvent, error) {
	endpoint := fmt.Sprintf("/v4/sports/%s/odds", sport)
	params := url.Values{}
	params.Set("regions", c.regions)
	params.Set("markets", strings.Join(marketKeys, ","))
	params.Set("oddsFormat", c.oddsFormat)
	params.Set("dateFormat", "iso")

	var events []oddsEvent
	if err := c.get(ctx, endpoint, sport, params, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// get runs one metered GET. The budget is consulted and charged before the
// request goes out; the charge stands regardless of the HTTP outcome.
func (c *Client) get(ctx context.Context, endpoint, sport string, params url.Values, out any) error {
	if remaining := c.lastRemaining.Load(); remaining >= 0 && c.remainingFloor > 0 && remaining < int64(c.remainingFloor) {
		metrics.ProviderCalls.WithLabelValues(sport, "budget_denied").Inc()
		return &BudgetExceededError{
			Status: models.QuotaStatus{Remaining: int(remaining)},
			Reason: fmt.Sprintf("provider reports %d calls remaining, floor is %d", remaining, c.remainingFloor),
		}
	}

	granted, status := c.quota.Acquire(ctx, 1)
	metrics.QuotaUsed.Set(float64(status.Used))
	if !granted {
		metrics.ProviderCalls.WithLabelValues(sport, "budget_denied").Inc()
		return &BudgetExceededError{Status: status, Reason: "daily call budget exhausted"}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apiKey", c.apiKey)

	reqURL := c.host + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(sport, "transport_error").Inc()
		return &ProviderError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.recordRemaining(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(sport, "transport_error").Inc()
		return &ProviderError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProviderCalls.WithLabelValues(sport, "http_error").Inc()
		return &ProviderError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		metrics.ProviderCalls.WithLabelValues(sport, "http_error").Inc()
		return &ProviderError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	metrics.ProviderCalls.WithLabelValues(sport, "ok").Inc()
	return nil
}

// recordRemaining tracks the provider's rate-limit headers.
func (c *Client) recordRemaining(resp *http.Response) {
	raw := resp.Header.Get("x-requests-remaining")
	if raw == "" {
		return
	}
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}
	c.lastRemaining.Store(int64(remaining))
	c.logger.Debug().
		Str("requests_remaining", raw).
		Str("requests_used", resp.Header.Get("x-requests-used")).
		Msg("provider quota headers")
}

// flattenEvent converts the nested provider payload into long-form rows, one
// per (event, book, market, outcome).
func flattenEvent(ev *oddsEvent, sportKey string) []models.RawRecord {
	if ev.SportKey == "" {
		ev.SportKey = sportKey
	}

	var rows []models.RawRecord
	for _, bm := range ev.Bookmakers {
		for _, mkt := range bm.Markets {
			for _, outc := range mkt.Outcomes {
				row := models.RawRecord{
					"event_id":      ev.ID,
					"sport_key":     ev.SportKey,
					"commence_time": ev.CommenceTime,
					"home_team":     ev.HomeTeam,
					"away_team":     ev.AwayTeam,
					"book_key":      bm.Key,
					"book_title":    bm.Title,
					"last_update":   bm.LastUpdate,
					"market_key":    mkt.Key,
					"outcome_name":  outc.Name,
					"price":         outc.Price.String(),
				}
				if outc.Point != nil {
					row["point"] = *outc.Point
				}
				rows = append(rows, row)
			}
		}
	}
	return rows
}
