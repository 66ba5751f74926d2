package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testQuotaStoreSetup is a helper struct to hold test dependencies
type testQuotaStoreSetup struct {
	store     *Store
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	ctx       context.Context
	clock     *fakeClock
}

// fakeClock is an adjustable time source
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

// setupTestQuotaStore creates a quota store against miniredis with a fixed
// clock
func setupTestQuotaStore(t *testing.T, limit int) *testQuotaStoreSetup {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store, err := NewStore(client, StoreConfig{
		Key:        "quota:test",
		DailyLimit: limit,
		Timezone:   "America/New_York",
	}, zerolog.Nop())
	require.NoError(t, err)

	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store.now = clock.now

	return &testQuotaStoreSetup{
		store:     store,
		miniRedis: mr,
		client:    client,
		ctx:       context.Background(),
		clock:     clock,
	}
}

// cleanup cleans up test resources
func (s *testQuotaStoreSetup) cleanup() {
	s.client.Close()
	s.miniRedis.Close()
}

// TestNewStore_InvalidTimezone tests rejection of an unknown timezone
func TestNewStore_InvalidTimezone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err = NewStore(client, StoreConfig{
		Key:        "quota:test",
		DailyLimit: 450,
		Timezone:   "Not/AZone",
	}, zerolog.Nop())

	assert.Error(t, err)
}

// TestStatus_FreshDay tests status with no prior record
func TestStatus_FreshDay(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	status := setup.store.Status(setup.ctx)

	assert.Equal(t, 0, status.Used)
	assert.Equal(t, 5, status.Limit)
	assert.Equal(t, 5, status.Remaining)
	// Noon UTC on June 1 is still June 1 in New York.
	assert.Equal(t, "2025-06-01", status.Date)
}

// TestAcquire_UpToLimit tests that the budget admits exactly limit calls
func TestAcquire_UpToLimit(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	for i := 1; i <= 5; i++ {
		granted, status := setup.store.Acquire(setup.ctx, 1)
		assert.True(t, granted)
		assert.Equal(t, i, status.Used)
	}

	granted, status := setup.store.Acquire(setup.ctx, 1)
	assert.False(t, granted)
	assert.Equal(t, 5, status.Used)
	assert.Equal(t, 0, status.Remaining)
}

// TestCanSpend_NeverCharges tests that CanSpend leaves the count unchanged
func TestCanSpend_NeverCharges(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	for i := 0; i < 10; i++ {
		assert.True(t, setup.store.CanSpend(setup.ctx, 1))
	}
	assert.Equal(t, 0, setup.store.Status(setup.ctx).Used)

	assert.False(t, setup.store.CanSpend(setup.ctx, 6))
}

// TestSpend_Unconditional tests that Spend charges past the limit
func TestSpend_Unconditional(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	for i := 0; i < 7; i++ {
		require.NoError(t, setup.store.Spend(setup.ctx, 1))
	}

	status := setup.store.Status(setup.ctx)
	assert.Equal(t, 7, status.Used)
	assert.Equal(t, 0, status.Remaining)
	assert.False(t, setup.store.CanSpend(setup.ctx, 1))
}

// TestSpendToLimit_ThenDenied tests the exact limit boundary
func TestSpendToLimit_ThenDenied(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	for i := 0; i < 5; i++ {
		require.NoError(t, setup.store.Spend(setup.ctx, 1))
	}

	assert.Equal(t, 5, setup.store.Status(setup.ctx).Used)
	assert.False(t, setup.store.CanSpend(setup.ctx, 1))

	// The next day the count is back to zero.
	setup.clock.current = setup.clock.current.Add(24 * time.Hour)
	assert.True(t, setup.store.CanSpend(setup.ctx, 1))
	assert.Equal(t, 0, setup.store.Status(setup.ctx).Used)
}

// TestDayRollover tests that the count resets when the local day advances
func TestDayRollover(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	for i := 0; i < 5; i++ {
		granted, _ := setup.store.Acquire(setup.ctx, 1)
		require.True(t, granted)
	}
	granted, _ := setup.store.Acquire(setup.ctx, 1)
	require.False(t, granted)

	// Advance past midnight New York time.
	setup.clock.current = setup.clock.current.Add(24 * time.Hour)

	status := setup.store.Status(setup.ctx)
	assert.Equal(t, "2025-06-02", status.Date)
	assert.Equal(t, 0, status.Used)

	granted, status = setup.store.Acquire(setup.ctx, 1)
	assert.True(t, granted)
	assert.Equal(t, 1, status.Used)
}

// TestTimezoneBoundary tests that the day key follows the configured zone,
// not UTC
func TestTimezoneBoundary(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	// 03:00 UTC on June 2 is 23:00 on June 1 in New York (EDT).
	setup.clock.current = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)

	status := setup.store.Status(setup.ctx)
	assert.Equal(t, "2025-06-01", status.Date)
}

// TestLimitDisabled tests that a non-positive limit admits everything
func TestLimitDisabled(t *testing.T) {
	setup := setupTestQuotaStore(t, 0)
	defer setup.cleanup()

	for i := 0; i < 100; i++ {
		granted, _ := setup.store.Acquire(setup.ctx, 1)
		require.True(t, granted)
	}

	status := setup.store.Status(setup.ctx)
	assert.Equal(t, 100, status.Used)
	assert.Equal(t, 0, status.Remaining)
}

// TestAcquire_Batch tests acquiring several calls at once
func TestAcquire_Batch(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	defer setup.cleanup()

	granted, status := setup.store.Acquire(setup.ctx, 3)
	assert.True(t, granted)
	assert.Equal(t, 3, status.Used)

	// A batch that would overshoot is denied whole; nothing is charged.
	granted, status = setup.store.Acquire(setup.ctx, 3)
	assert.False(t, granted)
	assert.Equal(t, 3, status.Used)

	granted, _ = setup.store.Acquire(setup.ctx, 2)
	assert.True(t, granted)
}

// TestRedisDown_AllowsCalls tests graceful degradation when storage is gone
func TestRedisDown_AllowsCalls(t *testing.T) {
	setup := setupTestQuotaStore(t, 5)
	setup.miniRedis.Close()
	defer setup.client.Close()

	granted, status := setup.store.Acquire(setup.ctx, 1)
	assert.True(t, granted)
	assert.Equal(t, 0, status.Used)
	assert.True(t, setup.store.CanSpend(setup.ctx, 1))
	assert.NoError(t, setup.store.Spend(setup.ctx, 1))
}
