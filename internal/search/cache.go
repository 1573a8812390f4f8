package search

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

// ResultCache stores search results by key
type ResultCache interface {
	Get(ctx context.Context, key string) ([]research.EvidenceItem, bool)
	Set(ctx context.Context, key string, items []research.EvidenceItem, ttl time.Duration)
}

// LocalLRU is an in-process LRU with TTL
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List // front = most recent
	m    map[string]*list.Element
	now  func() time.Time
}

type lruEntry struct {
	key   string
	items []research.EvidenceItem
	exp   time.Time
}

// NewLocalLRU creates an LRU holding up to capacity entries.
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 512
	}
	return &LocalLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity), now: time.Now}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]research.EvidenceItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.m[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(lruEntry)
	if !ent.exp.After(l.now()) {
		l.list.Remove(el)
		delete(l.m, key)
		return nil, false
	}
	l.list.MoveToFront(el)
	return cloneItems(ent.items), true
}

func (l *LocalLRU) Set(_ context.Context, key string, items []research.EvidenceItem, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ent := lruEntry{key: key, items: cloneItems(items), exp: l.now().Add(ttl)}
	if el, ok := l.m[key]; ok {
		el.Value = ent
		l.list.MoveToFront(el)
		return
	}
	l.m[key] = l.list.PushFront(ent)
	if l.list.Len() > l.cap {
		if back := l.list.Back(); back != nil {
			delete(l.m, back.Value.(lruEntry).key)
			l.list.Remove(back)
		}
	}
}

// Len returns the number of cached entries
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// RedisCache stores JSON-encoded results behind the Redis circuit breaker.
type RedisCache struct {
	cli *circuitbreaker.RedisWrapper
}

// NewRedisCache wraps client with a circuit breaker.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{cli: circuitbreaker.NewRedisWrapper(client, logger)}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]research.EvidenceItem, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var items []research.EvidenceItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, false
	}
	return items, true
}

func (r *RedisCache) Set(ctx context.Context, key string, items []research.EvidenceItem, ttl time.Duration) {
	b, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = r.cli.Set(ctx, key, b, ttl).Err()
}

// Cached serves repeated queries from a local LRU and an optional shared cache.
type Cached struct {
	next   Searcher
	local  ResultCache
	shared ResultCache
	ttl    time.Duration
}

// NewCached wraps next. shared may be nil.
func NewCached(next Searcher, local, shared ResultCache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{next: next, local: local, shared: shared, ttl: ttl}
}

// Search implements Searcher. Errors and empty results are not cached.
func (c *Cached) Search(ctx context.Context, query string, maxResults int) ([]research.EvidenceItem, error) {
	key := MakeKey(query, maxResults)
	if c.local != nil {
		if items, ok := c.local.Get(ctx, key); ok {
			metrics.SearchCacheHits.WithLabelValues("local").Inc()
			return items, nil
		}
	}
	if c.shared != nil {
		if items, ok := c.shared.Get(ctx, key); ok {
			metrics.SearchCacheHits.WithLabelValues("shared").Inc()
			if c.local != nil {
				c.local.Set(ctx, key, items, c.ttl)
			}
			return items, nil
		}
	}
	metrics.SearchCacheMisses.Inc()

	items, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if c.local != nil {
			c.local.Set(ctx, key, items, c.ttl)
		}
		if c.shared != nil {
			c.shared.Set(ctx, key, items, c.ttl)
		}
	}
	return items, nil
}

// MakeKey derives the cache key for a query.
func MakeKey(query string, maxResults int) string {
	h := md5.Sum([]byte(query + "|" + strconv.Itoa(maxResults)))
	return "search:" + hex.EncodeToString(h[:])
}

func cloneItems(items []research.EvidenceItem) []research.EvidenceItem {
	out := make([]research.EvidenceItem, len(items))
	copy(out, items)
	return out
}
