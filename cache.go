package laju

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CacheEntry memoizes one completed successful fetch.
type CacheEntry struct {
	Value      any
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Cache is the response cache interface. Implementations must be safe for
// concurrent use and must never serve an entry past its TTL.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
	Len() int
}

// InMemoryCache is a sharded in-memory TTL cache with a bounded entry count.
// Expired entries are reclaimed lazily on Get; when the table exceeds
// maxEntries a bulk sweep retains only the most-recently-inserted half.
type InMemoryCache struct {
	shards     []*cacheShard
	numShards  int
	maxEntries int
	size       atomic.Int64
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates a cache bounded to maxEntries (0 means unbounded).
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return &InMemoryCache{
		shards:     shards,
		numShards:  numShards,
		maxEntries: maxEntries,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns the live value for key. An expired entry is treated as a miss
// and removed as a side effect.
func (c *InMemoryCache) Get(key string) (any, bool) {
	shard := c.getShard(key)

	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		shard.mu.Lock()
		if cur, ok := shard.store[key]; ok && cur == entry {
			delete(shard.store, key)
			c.size.Add(-1)
		}
		shard.mu.Unlock()
		return nil, false
	}

	return entry.Value, true
}

// Set stores value under key for ttl.
func (c *InMemoryCache) Set(key string, value any, ttl time.Duration) {
	now := time.Now()
	entry := &CacheEntry{
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	shard := c.getShard(key)
	shard.mu.Lock()
	if _, exists := shard.store[key]; !exists {
		c.size.Add(1)
	}
	shard.store[key] = entry
	shard.mu.Unlock()

	if c.maxEntries > 0 && int(c.size.Load()) > c.maxEntries {
		c.evict()
	}
}

// evict performs the age-based bulk sweep: all entries are ranked by insertion
// time and only the newest maxEntries/2 survive. Coarser than LRU but bounds
// memory without per-Get bookkeeping.
func (c *InMemoryCache) evict() {
	type aged struct {
		shard *cacheShard
		key   string
		at    time.Time
	}

	var all []aged
	for _, shard := range c.shards {
		shard.mu.RLock()
		for k, e := range shard.store {
			all = append(all, aged{shard: shard, key: k, at: e.InsertedAt})
		}
		shard.mu.RUnlock()
	}

	retain := c.maxEntries / 2
	if retain < 1 {
		retain = 1
	}
	if len(all) <= retain {
		return
	}

	sort.Slice(all, func(i, j int) bool { return all[i].at.After(all[j].at) })

	for _, victim := range all[retain:] {
		victim.shard.mu.Lock()
		if _, ok := victim.shard.store[victim.key]; ok {
			delete(victim.shard.store, victim.key)
			c.size.Add(-1)
		}
		victim.shard.mu.Unlock()
	}
}

// Delete removes key.
func (c *InMemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	if _, ok := shard.store[key]; ok {
		delete(shard.store, key)
		c.size.Add(-1)
	}
	shard.mu.Unlock()
}

// Clear removes all entries. The counter is adjusted by what each shard
// actually held so a Set racing with Clear is never lost from the count.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		removed := len(shard.store)
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
		c.size.Add(-int64(removed))
	}
}

// Len returns the current entry count.
func (c *InMemoryCache) Len() int {
	return int(c.size.Load())
}

// Context keys for per-request cache control.
type contextKey string

const cacheControlKey contextKey = "laju_cache_control"

// CacheControl overrides caching behavior for a single request.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheDisabled disables caching for requests carrying this context.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL forces caching with a custom TTL for this context.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

func cacheControlFromContext(ctx context.Context) (*CacheControl, bool) {
	cc, ok := ctx.Value(cacheControlKey).(*CacheControl)
	return cc, ok
}
