package tokens

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxCacheDuration = 300 * time.Second
	DefaultRefreshThreshold = 60 * time.Second

	cacheShardCount = 32
	minCacheTTL     = 10 * time.Second
)

type cacheEntry struct {
	token     string
	expiresAt time.Time
	cachedAt  time.Time
	deadline  time.Time
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// Cache holds access tokens per (user, session) for at most the configured
// cache duration. It shortens the served lifetime of a token, never extends
// it. Sharded so unrelated sessions do not contend on one lock.
type Cache struct {
	shards           [cacheShardCount]cacheShard
	maxCacheDuration time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
}

func NewCache(maxCacheDuration, refreshThreshold time.Duration) *Cache {
	if maxCacheDuration <= 0 {
		maxCacheDuration = DefaultMaxCacheDuration
	}
	if refreshThreshold <= 0 {
		refreshThreshold = DefaultRefreshThreshold
	}

	c := &Cache{
		maxCacheDuration: maxCacheDuration,
		refreshThreshold: refreshThreshold,
		now:              time.Now,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]cacheEntry)
	}
	return c
}

func (c *Cache) Get(userID, sessionID string) (CachedToken, bool) {
	key := cacheKey(userID, sessionID)
	shard := c.shard(key)
	now := c.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		return CachedToken{}, false
	}
	if !now.Before(entry.deadline) {
		delete(shard.entries, key)
		return CachedToken{}, false
	}

	return CachedToken{
		Token:        entry.token,
		ExpiresAt:    entry.expiresAt,
		CachedAt:     entry.cachedAt,
		NeedsRefresh: entry.expiresAt.Sub(now) <= c.refreshThreshold,
	}, true
}

func (c *Cache) Put(userID, sessionID, token string, expiresAt time.Time) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" || token == "" {
		return ErrInvalidInput
	}

	now := c.now()
	if !expiresAt.After(now) {
		return fmt.Errorf("token already expired: %w", ErrInvalidInput)
	}

	ttl := expiresAt.Sub(now)
	if ttl > c.maxCacheDuration {
		ttl = c.maxCacheDuration
	}
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	deadline := now.Add(ttl)
	if deadline.After(expiresAt) {
		deadline = expiresAt
	}

	key := cacheKey(userID, sessionID)
	shard := c.shard(key)

	shard.mu.Lock()
	shard.entries[key] = cacheEntry{
		token:     token,
		expiresAt: expiresAt,
		cachedAt:  now,
		deadline:  deadline,
	}
	shard.mu.Unlock()

	return nil
}

func (c *Cache) Invalidate(userID, sessionID string) {
	key := cacheKey(userID, sessionID)
	shard := c.shard(key)

	shard.mu.Lock()
	delete(shard.entries, key)
	shard.mu.Unlock()
}

func (c *Cache) InvalidateUser(userID string) {
	prefix := userID + "\x00"
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		for key := range shard.entries {
			if strings.HasPrefix(key, prefix) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

func (c *Cache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%cacheShardCount]
}

func cacheKey(userID, sessionID string) string {
	return userID + "\x00" + sessionID
}
