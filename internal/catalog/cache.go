package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache provides a thread-safe snapshot cache for reflected catalogs with
// TTL-based expiration and manual invalidation. Snapshots are swapped whole:
// readers either see the previous complete snapshot or the new one, never a
// partial reflection.
type Cache struct {
	mu        sync.RWMutex
	inspector Inspector
	ttl       time.Duration
	entries   map[string]*cacheEntry
}

type cacheEntry struct {
	catalog     *Catalog
	lastRefresh time.Time
	stale       bool
}

// NewCache creates a catalog cache with the given TTL
func NewCache(inspector Inspector, ttl time.Duration) *Cache {
	return &Cache{
		inspector: inspector,
		ttl:       ttl,
		entries:   make(map[string]*cacheEntry),
	}
}

func (e *cacheEntry) needsRefresh(ttl time.Duration) bool {
	return e.stale || time.Since(e.lastRefresh) > ttl
}

// Get returns the snapshot for a schema, reflecting it first if the cached
// copy is missing, stale, or expired.
func (c *Cache) Get(ctx context.Context, schema string) (*Catalog, error) {
	c.mu.RLock()
	entry, ok := c.entries[schema]
	if ok && !entry.needsRefresh(c.ttl) {
		catalog := entry.catalog
		c.mu.RUnlock()
		return catalog, nil
	}
	c.mu.RUnlock()

	return c.Refresh(ctx, schema)
}

// Refresh reflects the schema and atomically swaps the cached snapshot.
// Reflection happens without holding the lock; on failure the previous
// snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context, schema string) (*Catalog, error) {
	catalog, err := c.inspector.Reflect(ctx, schema)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[schema] = &cacheEntry{
		catalog:     catalog,
		lastRefresh: time.Now(),
	}
	c.mu.Unlock()

	log.Debug().
		Str("schema", schema).
		Int("tables", len(catalog.Tables)).
		Msg("Catalog cache refreshed")

	return catalog, nil
}

// Invalidate marks every cached schema stale, forcing reflection on next access
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		entry.stale = true
	}
	log.Debug().Msg("Catalog cache invalidated")
}

// InvalidateSchema marks one schema stale
func (c *Cache) InvalidateSchema(schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[schema]; ok {
		entry.stale = true
	}
	log.Debug().Str("schema", schema).Msg("Catalog cache entry invalidated")
}

// Cached returns the cached snapshot without triggering reflection.
// The second return is false when nothing usable is cached.
func (c *Cache) Cached(schema string) (*Catalog, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[schema]
	if !ok {
		return nil, false
	}
	return entry.catalog, true
}
