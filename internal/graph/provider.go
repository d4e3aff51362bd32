package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// BuildError reports a failed graph build with no earlier graph to fall
// back to.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("graph build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Provider serves the graph from cache and rebuilds it on a miss. When a
// rebuild fails it serves the last good graph marked stale.
type Provider struct {
	builder *Builder
	cache   Cache

	// gen counts invalidations. A build that started before the latest
	// invalidation is returned to its caller but never cached.
	gen atomic.Uint64

	mu       sync.Mutex
	lastGood *model.GraphData
}

// NewProvider creates a Provider. A nil cache uses an unbounded MemoryCache.
func NewProvider(builder *Builder, cache Cache) *Provider {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Provider{builder: builder, cache: cache}
}

// Graph returns the current graph.
func (p *Provider) Graph(ctx context.Context) (*model.GraphData, error) {
	g, err := p.cache.Get(ctx)
	if err != nil {
		zap.L().Warn("graph cache get failed", zap.Error(err))
	}
	if g != nil {
		return g, nil
	}

	// One rebuild at a time; waiters re-check the cache.
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, _ := p.cache.Get(ctx); g != nil {
		return g, nil
	}

	gen := p.gen.Load()
	g, err = p.builder.Build(ctx)
	if err != nil {
		if p.lastGood != nil {
			zap.L().Warn("graph rebuild failed, serving stale graph",
				zap.Error(err),
				zap.Time("built_at", p.lastGood.BuiltAt),
			)
			stale := *p.lastGood
			stale.Stale = true
			return &stale, nil
		}
		return nil, &BuildError{Err: err}
	}

	if p.gen.Load() != gen {
		zap.L().Debug("graph invalidated during rebuild, not caching")
		return g, nil
	}
	p.lastGood = g
	if err := p.cache.Set(ctx, g); err != nil {
		zap.L().Warn("graph cache set failed", zap.Error(err))
	}
	return g, nil
}

// Invalidate drops the cached graph. The next Graph call rebuilds it.
func (p *Provider) Invalidate(ctx context.Context) {
	p.gen.Add(1)
	if err := p.cache.Invalidate(ctx); err != nil {
		zap.L().Warn("graph cache invalidate failed", zap.Error(err))
	}
}
