// internal/offline/cache.go
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Haleem001/agrivault/internal/clock"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/model"
)

// Cache keeps keyed snapshots of read results so the app can render
// stale data while disconnected. Entries expire by absolute age and
// are evicted on the read that finds them stale.
type Cache struct {
	store  kv.Store
	clock  clock.Clock
	maxAge time.Duration
}

// NewCache creates a cache over the given kv store. A nil clk falls
// back to the real clock.
func NewCache(store kv.Store, clk clock.Clock, maxAge time.Duration) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{store: store, clock: clk, maxAge: maxAge}
}

// Put stores value under key, stamped with the current time.
func (c *Cache) Put(ctx context.Context, key string, value interface{}) error {
	entry := model.CacheEntry{Value: value, CapturedAt: c.clock.Now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.store.Set(ctx, kv.CacheKeyPrefix+key, raw)
}

// Get returns the cached value for key and whether a fresh entry was
// present. maxAge bounds this read; zero uses the configured default.
// A stale entry is evicted and reported absent, so a later read with
// a larger maxAge still misses. The value comes back in its JSON
// shape (maps and slices), not the original Go type.
func (c *Cache) Get(ctx context.Context, key string, maxAge time.Duration) (interface{}, bool, error) {
	if maxAge <= 0 {
		maxAge = c.maxAge
	}
	raw, ok, err := c.store.Get(ctx, kv.CacheKeyPrefix+key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entries are dropped, not served.
		_ = c.store.Delete(ctx, kv.CacheKeyPrefix+key)
		return nil, false, nil
	}

	if c.clock.Now().Sub(entry.CapturedAt) > maxAge {
		if err := c.store.Delete(ctx, kv.CacheKeyPrefix+key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Invalidate removes the entry for key regardless of age.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, kv.CacheKeyPrefix+key)
}
