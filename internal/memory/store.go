package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a run.
var ErrSnapshotNotFound = errors.New("memory snapshot not found")

const snapshotKeyPrefix = "research:memory:"

// RedisStore keeps exported memories in Redis so a finished run can be
// inspected after the process that produced it has moved on.
type RedisStore struct {
	redis  *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a snapshot store. ttl <= 0 keeps snapshots for a day.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		redis:  circuitbreaker.NewRedisWrapper(client, logger),
		ttl:    ttl,
		logger: logger,
	}
}

// Save exports m under runID.
func (s *RedisStore) Save(ctx context.Context, runID string, m *ResearchMemory) error {
	data, err := m.Export()
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, snapshotKeyPrefix+runID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save memory snapshot %s: %w", runID, err)
	}
	s.logger.Debug("Saved memory snapshot", zap.String("run_id", runID), zap.Int("bytes", len(data)))
	return nil
}

// Load restores the snapshot stored under runID.
func (s *RedisStore) Load(ctx context.Context, runID string, limitTokens int) (*ResearchMemory, error) {
	data, err := s.redis.Get(ctx, snapshotKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load memory snapshot %s: %w", runID, err)
	}
	m := New(limitTokens)
	if err := m.Import(data); err != nil {
		return nil, err
	}
	return m, nil
}

// Ping checks connectivity for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
