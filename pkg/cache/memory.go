package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return item.entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{entry: entry, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
