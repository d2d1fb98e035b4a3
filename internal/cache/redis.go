package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
)

const (
	keyPrefix = "combinations:"

	// DefaultTTL is how long a stored result stays in Redis.
	DefaultTTL = 10 * time.Minute

	breakerFailures = 3
	breakerTimeout  = 30 * time.Second
)

// RedisCache stores results in Redis as JSON. Calls go through a circuit
// breaker so an unavailable Redis costs one fast error instead of a timeout.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// Option configures a RedisCache.
type Option func(*redisOptions)

type redisOptions struct {
	ttl            time.Duration
	breakerTimeout time.Duration
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *redisOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithBreakerTimeout sets how long the breaker stays open before probing Redis again.
func WithBreakerTimeout(d time.Duration) Option {
	return func(o *redisOptions) {
		if d > 0 {
			o.breakerTimeout = d
		}
	}
}

// NewRedisCache wraps client. logger receives breaker state changes and may be nil.
func NewRedisCache(client *redis.Client, logger *zap.Logger, opts ...Option) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := redisOptions{ttl: DefaultTTL, breakerTimeout: breakerTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     cfg.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RedisCache{client: client, ttl: cfg.ttl, breaker: breaker}
}

func (r *RedisCache) Get(ctx context.Context, key string) (calculator.Result, error) {
	data, err := r.breaker.Execute(func() ([]byte, error) {
		data, err := r.client.Get(ctx, cacheKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is a healthy answer and must not trip the breaker.
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return calculator.Result{}, fmt.Errorf("redis get failed: %w", err)
	}
	if data == nil {
		return calculator.Result{}, ErrCacheMiss
	}

	var result calculator.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return calculator.Result{}, fmt.Errorf("unmarshal result failed: %w", err)
	}
	return result, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, result calculator.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result failed: %w", err)
	}

	_, err = r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Set(ctx, cacheKey(key), payload, r.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func cacheKey(key string) string {
	return keyPrefix + key
}

var _ Cache = (*RedisCache)(nil)
