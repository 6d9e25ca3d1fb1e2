package splunk

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SchemaDiscoverer produces a Schema for a look-back window.
type SchemaDiscoverer interface {
	DiscoverSchema(ctx context.Context, daysBack int) (*Schema, error)
}

// SchemaCache memoizes schema discovery per look-back window.
type SchemaCache struct {
	source SchemaDiscoverer
	lru    *expirable.LRU[int, *Schema]
	mu     sync.Mutex // serializes discovery
}

// NewSchemaCache caches up to size windows for ttl.
func NewSchemaCache(source SchemaDiscoverer, size int, ttl time.Duration) *SchemaCache {
	if size <= 0 {
		size = 8
	}
	return &SchemaCache{
		source: source,
		lru:    expirable.NewLRU[int, *Schema](size, nil, ttl),
	}
}

// Get returns the cached schema for daysBack, discovering it on a miss.
// Failed discoveries are not cached.
func (c *SchemaCache) Get(ctx context.Context, daysBack int) (*Schema, error) {
	if s, ok := c.lru.Get(daysBack); ok {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.lru.Get(daysBack); ok {
		return s, nil
	}
	s, err := c.source.DiscoverSchema(ctx, daysBack)
	if err != nil {
		return nil, err
	}
	c.lru.Add(daysBack, s)
	return s, nil
}

// Invalidate drops every cached schema.
func (c *SchemaCache) Invalidate() {
	c.lru.Purge()
}
