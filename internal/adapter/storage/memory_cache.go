package storage

import (
	"context"
	"sync"
	"time"
)

type mirroredCount struct {
	available int
	version   int64
}

// MemoryCache is the in-process CacheRepository used when Redis is not
// configured. Idempotency claims expire after the same TTL as in Redis.
type MemoryCache struct {
	mu           sync.Mutex
	claims       map[string]time.Time
	availability map[string]mirroredCount
	now          func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		claims:       make(map[string]time.Time),
		availability: make(map[string]mirroredCount),
		now:          time.Now,
	}
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	c.claims[key] = now.Add(idempotencyKeyTTL)
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.claims, key)
	return nil
}

func (c *MemoryCache) SetAvailability(ctx context.Context, bookID string, available int, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.availability[bookID]; ok && current.version > version {
		return nil
	}
	c.availability[bookID] = mirroredCount{available: available, version: version}
	return nil
}

func (c *MemoryCache) DeleteAvailability(ctx context.Context, bookID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.availability, bookID)
	return nil
}

func (c *MemoryCache) GetAvailability(ctx context.Context, bookID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.availability[bookID]
	return current.available, ok, nil
}
