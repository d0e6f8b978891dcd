package cache

import (
	"context"
	"sync"
	"time"

	"bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
)

// memoryEntry with a nil profile is a tombstone left by Invalidate.
type memoryEntry struct {
	profile   *models.Profile
	expiresAt time.Time
}

// MemoryCache is the TTL cache used when Redis is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[id.UserID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[id.UserID]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, userID id.UserID) (*models.Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.live(userID)
	if !ok || entry.profile == nil {
		return nil, sentinel.ErrNotFound
	}
	return entry.profile.Clone(), nil
}

// Set stores p unless the key holds a live entry or tombstone.
func (c *MemoryCache) Set(_ context.Context, p *models.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(p.UserID); ok {
		return nil
	}
	c.entries[p.UserID] = memoryEntry{profile: p.Clone(), expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userID id.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = memoryEntry{expiresAt: c.now().Add(InvalidationHold)}
	return nil
}

// live returns the unexpired entry for userID. Callers hold c.mu.
func (c *MemoryCache) live(userID id.UserID) (memoryEntry, bool) {
	entry, ok := c.entries[userID]
	if !ok || !c.now().Before(entry.expiresAt) {
		return memoryEntry{}, false
	}
	return entry, true
}
