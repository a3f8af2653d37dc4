package cache

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/models"
)

// Cache stores fetched datasets. Get returns only unexpired entries; GetStale
// returns an entry whose FetchedAt is within maxStaleAge even after expiry.
type Cache interface {
	Get(ctx context.Context, key string) (models.Dataset, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Dataset, bool, error)
	Set(ctx context.Context, key string, value models.Dataset, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// InMemoryCache implements Cache with a sharded concurrent map. Expired entries
// are kept for stale reads until overwritten or deleted.
type InMemoryCache struct {
	clock clockwork.Clock
	data  cmap.ConcurrentMap[string, cacheEntry]
}

type cacheEntry struct {
	value     models.Dataset
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache using the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache reading time from clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return &InMemoryCache{
		clock: clock,
		data:  cmap.New[cacheEntry](),
	}
}

// Get returns (dataset, true, nil) on a hit and (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Dataset, bool, error) {
	entry, ok := c.data.Get(key)
	if !ok || !c.clock.Now().Before(entry.expiresAt) {
		return models.Dataset{}, false, nil
	}
	return entry.value, true, nil
}

// GetStale returns the entry regardless of expiry if it was fetched within maxStaleAge.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Dataset, bool, error) {
	entry, ok := c.data.Get(key)
	if !ok || c.clock.Since(entry.value.FetchedAt) > maxStaleAge {
		return models.Dataset{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value until ttl elapses.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Dataset, ttl time.Duration) error {
	c.data.Set(key, cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	})
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.data.Remove(key)
	return nil
}
