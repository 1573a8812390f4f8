package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix  = "research:events:"
	defaultStreamLen = 1000
	defaultStreamTTL = 24 * time.Hour
)

// RedisMirror appends events to one Redis stream per run so other processes
// can follow a run after this one restarts.
type RedisMirror struct {
	client *redis.Client
	maxLen int64
	ttl    time.Duration
}

// NewRedisMirror creates a mirror. maxLen and ttl fall back to defaults when <= 0.
func NewRedisMirror(client *redis.Client, maxLen int64, ttl time.Duration) *RedisMirror {
	if maxLen <= 0 {
		maxLen = defaultStreamLen
	}
	if ttl <= 0 {
		ttl = defaultStreamTTL
	}
	return &RedisMirror{client: client, maxLen: maxLen, ttl: ttl}
}

func streamKey(runID string) string {
	return streamKeyPrefix + runID
}

// Append implements Mirror.
func (r *RedisMirror) Append(ctx context.Context, evt Event) error {
	values := map[string]interface{}{
		"type": evt.Type,
		"seq":  strconv.FormatUint(evt.Seq, 10),
		"ts":   strconv.FormatInt(evt.Timestamp.UnixNano(), 10),
	}
	if evt.AgentID != "" {
		values["agent_id"] = evt.AgentID
	}
	if evt.Message != "" {
		values["message"] = evt.Message
	}
	if len(evt.Data) > 0 {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		values["data"] = string(data)
	}

	key := streamKey(evt.RunID)
	pipe := r.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: values,
	})
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Events reads back the mirrored events of runID with Seq > since.
func (r *RedisMirror) Events(ctx context.Context, runID string, since uint64) ([]Event, error) {
	msgs, err := r.client.XRange(ctx, streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		evt := Event{RunID: runID}
		if v, ok := msg.Values["type"].(string); ok {
			evt.Type = v
		}
		if v, ok := msg.Values["agent_id"].(string); ok {
			evt.AgentID = v
		}
		if v, ok := msg.Values["message"].(string); ok {
			evt.Message = v
		}
		if v, ok := msg.Values["seq"].(string); ok {
			evt.Seq, _ = strconv.ParseUint(v, 10, 64)
		}
		if v, ok := msg.Values["ts"].(string); ok {
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				evt.Timestamp = time.Unix(0, ns)
			}
		}
		if v, ok := msg.Values["data"].(string); ok {
			if err := json.Unmarshal([]byte(v), &evt.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}
