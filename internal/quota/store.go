package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// Day rollover, budget check and increment all happen inside Lua so that
// overlapping refresh runs cannot jointly exceed the daily limit.
var (
	acquireScript = redis.NewScript(`
local date = redis.call('HGET', KEYS[1], 'date')
if date ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'date', ARGV[1], 'count', 0)
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0
local n = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if limit > 0 and count + n > limit then
  return {0, count}
end
count = redis.call('HINCRBY', KEYS[1], 'count', n)
return {1, count}
`)

	canSpendScript = redis.NewScript(`
local date = redis.call('HGET', KEYS[1], 'date')
if date ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'date', ARGV[1], 'count', 0)
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count')) or 0
local n = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if limit > 0 and count + n > limit then
  return {0, count}
end
return {1, count}
`)

	spendScript = redis.NewScript(`
local date = redis.call('HGET', KEYS[1], 'date')
if date ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'date', ARGV[1], 'count', 0)
end
return redis.call('HINCRBY', KEYS[1], 'count', tonumber(ARGV[2]))
`)
)

// Store is a durable counter of provider calls made today, reset on
// timezone-aware day rollover. State lives in a Redis hash {date, count}
// so it survives restarts and is shared across processes.
type Store struct {
	client   *redis.Client
	key      string
	limit    int
	location *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

// StoreConfig holds quota store configuration.
type StoreConfig struct {
	Key        string // Redis key, e.g. "quota:odds-provider"
	DailyLimit int    // <= 0 disables budgeting
	Timezone   string // IANA name, e.g. "America/New_York"
}

// NewStore creates a quota store on an existing Redis client.
func NewStore(client *redis.Client, config StoreConfig, logger zerolog.Logger) (*Store, error) {
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", config.Timezone, err)
	}

	return &Store{
		client:   client,
		key:      config.Key,
		limit:    config.DailyLimit,
		location: loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "quota_store").Logger(),
	}, nil
}

// today returns the current calendar day in the configured timezone.
func (s *Store) today() string {
	return s.now().In(s.location).Format("2006-01-02")
}

// Acquire atomically applies day rollover, checks headroom for n calls and,
// if granted, charges them. This is the path the provider client uses before
// every network call: the charge covers the attempt, not the response.
func (s *Store) Acquire(ctx context.Context, n int) (bool, models.QuotaStatus) {
	today := s.today()
	res, err := acquireScript.Run(ctx, s.client, []string{s.key}, today, n, s.limit).Slice()
	if err != nil {
		// No reachable record: start fresh rather than failing the caller.
		s.logger.Warn().Err(err).Msg("quota storage unavailable, allowing call with fresh count")
		return true, s.status(today, 0)
	}
	granted := res[0].(int64) == 1
	count := int(res[1].(int64))
	return granted, s.status(today, count)
}

// CanSpend reports whether n more calls fit in today's budget. It never
// charges. Day rollover is applied first.
func (s *Store) CanSpend(ctx context.Context, n int) bool {
	res, err := canSpendScript.Run(ctx, s.client, []string{s.key}, s.today(), n, s.limit).Slice()
	if err != nil {
		s.logger.Warn().Err(err).Msg("quota storage unavailable, treating as no record")
		return true
	}
	return res[0].(int64) == 1
}

// Spend charges n calls unconditionally. Quota is consumed by the provider
// on receipt of a request, so this is called once per attempted call
// regardless of its outcome.
func (s *Store) Spend(ctx context.Context, n int) error {
	count, err := spendScript.Run(ctx, s.client, []string{s.key}, s.today(), n).Int()
	if err != nil {
		s.logger.Warn().Err(err).Msg("quota storage unavailable, spend not recorded")
		return nil
	}
	s.logger.Debug().Int("count", count).Int("limit", s.limit).Msg("charged provider call")
	return nil
}

// Status returns today's usage after applying day rollover.
func (s *Store) Status(ctx context.Context) models.QuotaStatus {
	today := s.today()
	res, err := canSpendScript.Run(ctx, s.client, []string{s.key}, today, 0, s.limit).Slice()
	if err != nil {
		s.logger.Warn().Err(err).Msg("quota storage unavailable, reporting fresh count")
		return s.status(today, 0)
	}
	return s.status(today, int(res[1].(int64)))
}

// status assembles a QuotaStatus for the given day and count.
func (s *Store) status(date string, used int) models.QuotaStatus {
	remaining := 0
	if s.limit > 0 {
		remaining = s.limit - used
		if remaining < 0 {
			remaining = 0
		}
	}
	return models.QuotaStatus{
		Date:      date,
		Used:      used,
		Limit:     s.limit,
		Remaining: remaining,
	}
}
