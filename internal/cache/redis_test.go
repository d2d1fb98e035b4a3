package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
)

// setupTestRedis creates a miniredis server and a RedisCache pointing at it.
func setupTestRedis(t *testing.T, opts ...Option) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	cache := NewRedisCache(client, zaptest.NewLogger(t), opts...)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func sampleResult() calculator.Result {
	return calculator.Result{
		Combinations: []calculator.Combination{{
			Stamps: []calculator.UsedStamp{
				{ID: 1, Name: "Castelli", FaceValue: decimal.NewFromInt(500), Currency: "ITL", Quantity: 2},
				{ID: 3, Name: "B", FaceValue: decimal.RequireFromString("0.95"), Currency: "EUR", Quantity: 1},
			},
			TotalValue:  decimal.RequireFromString("1.47"),
			Overpay:     decimal.RequireFromString("0.07"),
			TotalStamps: 3,
			Signature:   "1x2,3x1",
		}},
		Accepted:   1,
		Incomplete: false,
	}
}

func TestSetThenGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "abc", sampleResult()))
	assert.True(t, mr.Exists("combinations:abc"))

	got, err := cache.Get(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, got.Combinations, 1)
	combo := got.Combinations[0]
	assert.Equal(t, "1x2,3x1", combo.Signature)
	assert.Equal(t, 3, combo.TotalStamps)
	assert.True(t, combo.TotalValue.Equal(decimal.RequireFromString("1.47")))
	assert.True(t, combo.Stamps[0].FaceValue.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 1, got.Accepted)
}

func TestGetCacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, err := cache.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetInvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("combinations:broken", `{"combinations":[`))

	_, err := cache.Get(context.Background(), "broken")
	require.ErrorContains(t, err, "unmarshal result failed")
}

func TestSetAppliesTTL(t *testing.T) {
	cache, mr := setupTestRedis(t, WithTTL(2*time.Minute))

	require.NoError(t, cache.Set(context.Background(), "ttl", sampleResult()))
	assert.Equal(t, 2*time.Minute, mr.TTL("combinations:ttl"))

	mr.FastForward(3 * time.Minute)
	_, err := cache.Get(context.Background(), "ttl")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	cache, _ := setupTestRedis(t)

	for i := 0; i < breakerFailures*2; i++ {
		_, err := cache.Get(context.Background(), "missing")
		require.ErrorIs(t, err, ErrCacheMiss)
	}
	require.NoError(t, cache.Set(context.Background(), "after", sampleResult()))
}

func TestBreakerOpensWhenRedisIsDown(t *testing.T) {
	cache, mr := setupTestRedis(t, WithBreakerTimeout(time.Hour))
	mr.Close()

	for i := 0; i < breakerFailures; i++ {
		_, err := cache.Get(context.Background(), "k")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCacheMiss)
	}

	_, err := cache.Get(context.Background(), "k")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	err = cache.Set(context.Background(), "k", sampleResult())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestNopAlwaysMisses(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Set(context.Background(), "k", sampleResult()))

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
