package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards the Redis operations used by the search cache and the
// memory snapshot store.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", GetRedisSettings().ToConfig(), logger)
	Default.Register("redis", cb)
	return &RedisWrapper{client: client, cb: cb}
}

// guard runs op through the breaker. redis.Nil is a normal miss, not a failure.
func (rw *RedisWrapper) guard(ctx context.Context, op func() error) error {
	err := rw.cb.Execute(ctx, func() error {
		if err := op(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return nil
	})
	Default.Record(rw.cb, "redis", err == nil)
	return err
}

// Ping wraps Redis Ping
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	if err := rw.guard(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis Get
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	if err := rw.guard(ctx, func() error {
		result = rw.client.Get(ctx, key)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis Set
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	if err := rw.guard(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps Redis Del
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	if err := rw.guard(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	}); err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
