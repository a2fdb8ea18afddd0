package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Lister returns the current entity list from the home platform.
type Lister interface {
	ListEntities(ctx context.Context) ([]Entity, error)
}

// Cache keeps the latest snapshot and rebuilds it on demand or on a timer.
// A failed rebuild leaves the previous snapshot in place.
type Cache struct {
	lister   Lister
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

// NewCache creates a cache over lister. interval drives Run; maxAge forces a
// synchronous rebuild in Snapshot when the current one is older. Zero values
// disable the respective behaviour.
func NewCache(lister Lister, interval, maxAge time.Duration) *Cache {
	return &Cache{
		lister:   lister,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Snapshot returns the current snapshot, building one first if none exists
// or the current one is older than maxAge.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := c.current.Load()
	if snap != nil && (c.maxAge <= 0 || c.now().Sub(snap.TakenAt()) < c.maxAge) {
		return snap, nil
	}

	fresh, err := c.Refresh(ctx)
	if err != nil {
		if snap != nil {
			slog.Warn("inventory refresh failed, serving stale snapshot", "error", err, "age", c.now().Sub(snap.TakenAt()))
			return snap, nil
		}
		return nil, err
	}
	return fresh, nil
}

// Refresh rebuilds the snapshot from the platform. Concurrent callers share
// one platform round trip.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		entities, err := c.lister.ListEntities(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing entities: %w", err)
		}
		snap := NewSnapshot(entities, c.now())
		c.current.Store(snap)
		slog.Info("inventory refreshed", "entities", snap.Len(), "areas", len(snap.Areas()))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Ready reports whether a snapshot has been built.
func (c *Cache) Ready(context.Context) error {
	if c.current.Load() == nil {
		return fmt.Errorf("inventory not loaded")
	}
	return nil
}

// Run refreshes the snapshot every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil {
		slog.Error("initial inventory load failed", "error", err)
	}
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil {
				slog.Error("inventory refresh failed", "error", err)
			}
		}
	}
}
