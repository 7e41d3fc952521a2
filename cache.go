package parksapi

import (
	"sync"
	"time"

	"github.com/ThemeParks/parksapi-sub000/internal/singleflight"
)

// DefaultSweepInterval is how often cache stores purge expired entries
// independently of access.
const DefaultSweepInterval = 5 * time.Minute

// Cache is the key/value store backing response caching. Implementations
// must treat expired reads as misses (deleting the entry), bound total entry
// count with least-recently-accessed eviction, and swallow storage errors as
// misses rather than surfacing them to Get callers.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Has(key string) bool
	Size() int
	Keys() []string
	// Wrap returns the cached value for key, or runs compute, stores the
	// result under ttl and returns it. Concurrent computes for one key are
	// coalesced.
	Wrap(key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error)
	Clear()
	// Close stops the background sweeper and releases resources.
	Close() error
}

// evictionReporter is implemented by stores that count entries dropped to
// enforce their bound. The processor forwards the cumulative total to metrics.
type evictionReporter interface {
	Evictions() int64
}

type memoryEntry struct {
	value      []byte
	expiresAt  time.Time
	lastAccess time.Time
}

// MemoryCache is a mutex-guarded in-memory cache with lazy expiry, a
// recency-based entry bound and a periodic sweep.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	maxEntries int
	evictions  int64
	group      *singleflight.Group
	sweepStop  chan struct{}
	closeOnce  sync.Once
}

// NewMemoryCache creates a memory cache bounded to maxEntries (0 or negative
// means unbounded) sweeping at DefaultSweepInterval.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return NewMemoryCacheWithSweep(maxEntries, DefaultSweepInterval)
}

// NewMemoryCacheWithSweep creates a memory cache with a custom sweep interval.
func NewMemoryCacheWithSweep(maxEntries int, sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		group:      singleflight.New(),
		sweepStop:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Get retrieves a value. An expired entry behaves as a miss and is deleted.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.lastAccess = time.Now()
	return entry.value, true
}

// Set stores a value, overwriting any previous entry and refreshing expiry.
// If the entry bound is exceeded, least-recently-accessed entries are
// evicted until back within bound.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &memoryEntry{
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	c.evictLocked()
}

// evictLocked drops least-recently-accessed entries until within bound.
func (c *MemoryCache) evictLocked() {
	if c.maxEntries <= 0 {
		return
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.lastAccess.Before(oldest) {
				oldestKey = key
				oldest = entry.lastAccess
				first = false
			}
		}
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Evictions returns how many entries have been dropped to enforce the bound.
func (c *MemoryCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Delete removes an entry.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Has reports whether a non-expired entry exists. It does not refresh the
// entry's recency.
func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return false
	}
	return true
}

// Size returns the current entry count, including not-yet-swept expired entries.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns all stored keys.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Wrap is compute-if-absent: concurrent computes for one key are coalesced
// so the computation runs once.
func (c *MemoryCache) Wrap(key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	v, err := c.group.Do(key, func() (interface{}, error) {
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*memoryEntry)
	c.mu.Unlock()
}

// Close stops the background sweeper.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.sweepStop) })
	return nil
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.sweepStop:
			return
		}
	}
}

// sweep deletes all expired entries independent of access.
func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
