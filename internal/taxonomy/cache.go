package taxonomy

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/taxonomy-cli/internal/model"
)

// DefaultSnapshotTTL is how long a loaded vocabulary snapshot is served
// before it is reloaded.
const DefaultSnapshotTTL = 30 * time.Second

// TermSource loads the canonical vocabulary. An empty category lists all terms.
type TermSource interface {
	ListTerms(ctx context.Context, category model.Category) ([]model.CanonicalTerm, error)
}

// Cache serves vocabulary snapshots with a short TTL. Concurrent reloads are
// collapsed into one store read.
type Cache struct {
	src TermSource
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	snap     *Snapshot
	loadedAt time.Time

	group singleflight.Group
}

// NewCache creates a snapshot cache. A non-positive ttl uses DefaultSnapshotTTL.
func NewCache(src TermSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Cache{src: src, ttl: ttl, now: time.Now}
}

// Snapshot returns the cached snapshot, reloading it when expired.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap, loadedAt := c.snap, c.loadedAt
	c.mu.RUnlock()

	if snap != nil && c.now().Sub(loadedAt) < c.ttl {
		return snap, nil
	}
	return c.Refresh(ctx)
}

// Refresh reloads the snapshot from the source regardless of age.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("snapshot", func() (any, error) {
		terms, err := c.src.ListTerms(ctx, "")
		if err != nil {
			return nil, eris.Wrap(err, "taxonomy: load snapshot")
		}
		snap := NewSnapshot(terms)

		c.mu.Lock()
		c.snap = snap
		c.loadedAt = c.now()
		c.mu.Unlock()

		zap.L().Debug("taxonomy snapshot loaded", zap.Int("terms", snap.Len()))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the cached snapshot so the next read reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}
