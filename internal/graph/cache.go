package graph

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// Cache stores the most recently built graph. Get returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context) (*model.GraphData, error)
	Set(ctx context.Context, g *model.GraphData) error
	Invalidate(ctx context.Context) error
}

// MemoryCache is an in-process Cache with an optional TTL.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	graph *model.GraphData
	setAt time.Time
}

// NewMemoryCache creates a MemoryCache. A zero ttl never expires entries.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context) (*model.GraphData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.graph == nil {
		return nil, nil
	}
	if c.ttl > 0 && c.now().Sub(c.setAt) >= c.ttl {
		return nil, nil
	}
	return c.graph, nil
}

func (c *MemoryCache) Set(_ context.Context, g *model.GraphData) error {
	c.mu.Lock()
	c.graph = g
	c.setAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.graph = nil
	c.mu.Unlock()
	return nil
}
