package activity

import (
	"context"
	"sync"
	"time"

	"plantcare-engine/pkg/types"
)

// CachedProvider caches profiles from another provider for a fixed TTL
type CachedProvider struct {
	next    Provider
	store   map[string]*cacheEntry
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	profile   *types.ActivityProfile
	createdAt time.Time
}

// NewCachedProvider wraps next with a TTL cache
func NewCachedProvider(next Provider, ttl time.Duration, maxSize int) *CachedProvider {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CachedProvider{
		next:    next,
		store:   make(map[string]*cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a cached profile or loads it from the wrapped provider
func (c *CachedProvider) Get(ctx context.Context, userID string) (*types.ActivityProfile, error) {
	c.mu.RLock()
	entry, ok := c.store[userID]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.createdAt) <= c.ttl {
		return copyProfile(entry.profile), nil
	}

	profile, err := c.next.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.store) >= c.maxSize {
		c.evictOldest()
	}
	c.store[userID] = &cacheEntry{profile: copyProfile(profile), createdAt: c.now()}
	c.mu.Unlock()

	return profile, nil
}

// Invalidate drops one user's cached profile
func (c *CachedProvider) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, userID)
}

// Len returns the number of cached entries, expired ones included
func (c *CachedProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// evictOldest removes the oldest cache entry; caller holds mu
func (c *CachedProvider) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.store {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(c.store, oldestKey)
	}
}
