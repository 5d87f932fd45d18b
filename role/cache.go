package role

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshInterval is how long a snapshot is served before reload.
	DefaultRefreshInterval = 5 * time.Minute

	defaultLoadTimeout = 2 * time.Second
)

// Config tunes a [Cache]. Zero values select defaults.
type Config struct {
	RefreshInterval time.Duration
	LoadTimeout     time.Duration
	Clock           func() time.Time
	Logger          *slog.Logger
}

type snapshot struct {
	roles    map[string]Role
	loadedAt time.Time
}

// Cache serves roles from an immutable in-memory snapshot.
type Cache struct {
	repo     Repository
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	snap      atomic.Pointer[snapshot]
	reloading atomic.Bool
	group     singleflight.Group
	reloads   atomic.Uint64
}

// NewCache creates a [Cache] over repo. No snapshot exists until the first
// [Cache.Warm] or [Cache.GetRole].
func NewCache(repo Repository, cfg Config) *Cache {
	c := &Cache{
		repo:     repo,
		interval: cfg.RefreshInterval,
		timeout:  cfg.LoadTimeout,
		now:      cfg.Clock,
		logger:   cfg.Logger,
	}
	if c.interval <= 0 {
		c.interval = DefaultRefreshInterval
	}
	if c.timeout <= 0 {
		c.timeout = defaultLoadTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Warm performs the initial load.
func (c *Cache) Warm(ctx context.Context) error {
	return c.load(ctx)
}

// GetRole returns the role with the given id.
//
// When the snapshot is older than the refresh interval, the first caller to
// notice reloads it while every other caller keeps reading the previous
// snapshot. A failed reload is logged and the old snapshot keeps serving;
// the next call retries.
func (c *Cache) GetRole(ctx context.Context, id string) (Role, error) {
	snap := c.snap.Load()

	switch {
	case snap == nil:
		if err := c.load(ctx); err != nil {
			return Role{}, err
		}
		snap = c.snap.Load()
	case c.now().Sub(snap.loadedAt) > c.interval:
		if c.reloading.CompareAndSwap(false, true) {
			// Another caller may have finished a reload since snap was read.
			if cur := c.snap.Load(); c.now().Sub(cur.loadedAt) <= c.interval {
				c.reloading.Store(false)
				snap = cur
				break
			}
			err := c.load(ctx)
			c.reloading.Store(false)
			if err != nil {
				c.logger.Warn("role: reload failed, serving previous snapshot",
					"age", c.now().Sub(snap.loadedAt), "error", err)
			} else {
				snap = c.snap.Load()
			}
		}
	}

	r, ok := snap.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// Snapshot returns a copy of the current role set, or nil before the first
// load.
func (c *Cache) Snapshot() []Role {
	snap := c.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]Role, 0, len(snap.roles))
	for _, r := range snap.roles {
		out = append(out, r)
	}
	return out
}

// LoadedAt reports when the current snapshot was loaded.
func (c *Cache) LoadedAt() time.Time {
	if snap := c.snap.Load(); snap != nil {
		return snap.loadedAt
	}
	return time.Time{}
}

// Reloads returns the number of completed repository loads.
func (c *Cache) Reloads() uint64 {
	return c.reloads.Load()
}

// load joins or starts the single shared reload. The shared read is bounded
// by the load timeout and detached from the caller's cancellation.
func (c *Cache) load(ctx context.Context) error {
	ch := c.group.DoChan("roles", func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		roles := make(map[string]Role)
		for r, err := range c.repo.ListAll(lctx) {
			if err != nil {
				return nil, err
			}
			roles[r.ID] = r
		}

		c.snap.Store(&snapshot{roles: roles, loadedAt: c.now()})
		c.reloads.Add(1)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
