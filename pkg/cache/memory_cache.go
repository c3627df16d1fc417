package cache

import (
	"sync"
	"time"
)

// CacheItem is a stored value and its expiry in unix nanos (0 never expires)
type CacheItem struct {
	Value      interface{}
	Expiration int64
	insertedAt int64
}

// MemoryCache is a TTL cache bounded by a maximum number of entries. When full,
// the oldest entry is evicted.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[string]*CacheItem
	maxEntries int
	now        func() time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewMemoryCache creates a cache; maxEntries <= 0 means unbounded. Expired
// entries are swept every sweepInterval until Close.
func NewMemoryCache(maxEntries int, sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:      make(map[string]*CacheItem),
		maxEntries: maxEntries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.cleanupExpired(sweepInterval)
	}
	return c
}

// Set stores value for ttl; ttl == 0 keeps it until evicted
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	now := c.now().UnixNano()
	expiration := int64(0)
	if ttl > 0 {
		expiration = now + int64(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictOldest()
	}
	c.items[key] = &CacheItem{Value: value, Expiration: expiration, insertedAt: now}
}

// Get returns a live value
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if item.Expiration > 0 && c.now().UnixNano() > item.Expiration {
		c.Delete(key)
		return nil, false
	}
	return item.Value, true
}

// Delete removes key
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes every entry
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*CacheItem)
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetAll returns every live entry
func (c *MemoryCache) GetAll() map[string]interface{} {
	now := c.now().UnixNano()

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]interface{}, len(c.items))
	for key, item := range c.items {
		if item.Expiration == 0 || now <= item.Expiration {
			result[key] = item.Value
		}
	}
	return result
}

// Close stops the sweeper
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// must be called with mu held
func (c *MemoryCache) evictOldest() {
	var (
		oldestKey string
		oldestAt  int64
		found     bool
	)
	for key, item := range c.items {
		if !found || item.insertedAt < oldestAt {
			oldestKey, oldestAt, found = key, item.insertedAt, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}

func (c *MemoryCache) sweep() {
	now := c.now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.items {
		if item.Expiration > 0 && now > item.Expiration {
			delete(c.items, key)
		}
	}
}

func (c *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}
