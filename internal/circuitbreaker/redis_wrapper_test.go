package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if err := wrapper.Set(ctx, "search:key", "cached", time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	got := wrapper.Get(ctx, "search:key")
	if got.Err() != nil {
		t.Errorf("Get failed: %v", got.Err())
	}
	if got.Val() != "cached" {
		t.Errorf("Expected 'cached', got '%s'", got.Val())
	}

	if err := wrapper.Get(ctx, "missing").Err(); err != redis.Nil {
		t.Errorf("Expected redis.Nil for missing key, got %v", err)
	}

	del := wrapper.Del(ctx, "search:key")
	if del.Err() != nil || del.Val() != 1 {
		t.Errorf("Expected one deleted key, got %d (%v)", del.Val(), del.Err())
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed")
	}
}

func TestRedisWrapper_TripsWhenServerIsGone(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	s.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if wrapper.Ping(ctx).Err() == nil {
			t.Error("Expected ping to fail against a closed server")
		}
	}
	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected circuit breaker to be open after repeated failures")
	}
	if err := wrapper.Get(ctx, "any").Err(); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
}

func TestRedisWrapper_NilIsNotAFailure(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		if err := wrapper.Get(context.Background(), "nope").Err(); err != redis.Nil {
			t.Errorf("Expected redis.Nil, got %v", err)
		}
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil results")
	}
}
