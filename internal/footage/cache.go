package footage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/iBekzod/next-gen-being-sub006/internal/provider"
)

const DefaultCacheTTL = time.Hour

type CacheKey struct {
	Query string
	Count int
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%d:%s", k.Count, strings.ToLower(strings.TrimSpace(k.Query)))
}

type Cache interface {
	Get(ctx context.Context, key CacheKey) ([]provider.StockVideo, bool, error)
	Set(ctx context.Context, key CacheKey, videos []provider.StockVideo) error
}

type Clock func() time.Time

type memoryEntry struct {
	videos  []provider.StockVideo
	expires time.Time
}

type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     Clock
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration, now Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) ([]provider.StockVideo, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expires) {
		return nil, false, nil
	}
	return append([]provider.StockVideo(nil), entry.videos...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key CacheKey, videos []provider.StockVideo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key.String()] = memoryEntry{
		videos:  append([]provider.StockVideo(nil), videos...),
		expires: now.Add(c.ttl),
	}
	return nil
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "a2v:footage:"}
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) ([]provider.StockVideo, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var videos []provider.StockVideo
	if err := json.Unmarshal(raw, &videos); err != nil {
		return nil, false, fmt.Errorf("decode cached search: %w", err)
	}
	return videos, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, videos []provider.StockVideo) error {
	raw, err := json.Marshal(videos)
	if err != nil {
		return fmt.Errorf("encode search: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key.String(), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
