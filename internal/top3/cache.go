package top3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Selection results are cached only for minutes; the candidate set
// changes on every poll cycle and the key changes with it.
const cacheTTL = 5 * time.Minute

// CacheStore holds recent selections keyed by candidate set + rule.
type CacheStore interface {
	Get(ctx context.Context, key string) (*Selection, bool)
	Set(ctx context.Context, key string, sel Selection)
}

// CacheKey derives the cache key from the sorted candidate ids and the
// rule text. Any change to either produces a new key; entries are
// never invalidated in place.
func CacheKey(candidateIDs []string, rule string) string {
	ids := make([]string, len(candidateIDs))
	copy(ids, candidateIDs)
	sort.Strings(ids)

	idHash := sha256.New()
	for _, id := range ids {
		idHash.Write([]byte(id))
		idHash.Write([]byte{0})
	}
	ruleHash := sha256.Sum256([]byte(rule))

	return "top3:" + hex.EncodeToString(idHash.Sum(nil))[:32] + ":" + hex.EncodeToString(ruleHash[:])[:32]
}

// MemoryCache is the CacheStore used when no Redis is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	sel       Selection
	createdAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     cacheTTL,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	sel := e.sel
	return &sel, true
}

func (c *MemoryCache) Set(_ context.Context, key string, sel Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{sel: sel, createdAt: c.now()}
}

// RedisCache is the production CacheStore.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(rdb *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: cacheTTL, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Selection, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Top3 cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var sel Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		c.logger.Warn("Top3 cache entry corrupt, ignoring", zap.Error(err))
		return nil, false
	}
	return &sel, true
}

func (c *RedisCache) Set(ctx context.Context, key string, sel Selection) {
	data, err := json.Marshal(sel)
	if err != nil {
		c.logger.Warn("Top3 cache marshal failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Top3 cache write failed", zap.Error(err))
	}
}
