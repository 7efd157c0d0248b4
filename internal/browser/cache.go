// File: internal/browser/cache.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zetavg/session-proxy/internal/session"
)

// ContextFactory creates a live browser context restored from the session
// file at sessionPath.
type ContextFactory func(sessionPath string) (Context, error)

// ContextCache holds at most one live browser context per session path.
// Contexts are created lazily and reused across requests, so cookies and
// storage accumulated by one request's page activity are visible to the
// next request on the same session.
type ContextCache struct {
	log     *zap.Logger
	store   *session.Store
	locks   *session.PathLocks
	factory ContextFactory
	idleTTL time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ctx      Context
	lastUsed time.Time
}

// NewContextCache creates a cache. idleTTL of zero disables eviction,
// keeping every context alive until shutdown.
func NewContextCache(store *session.Store, locks *session.PathLocks, factory ContextFactory, idleTTL time.Duration, logger *zap.Logger) *ContextCache {
	return &ContextCache{
		log:     logger.Named("context_cache"),
		store:   store,
		locks:   locks,
		factory: factory,
		idleTTL: idleTTL,
		entries: make(map[string]*cacheEntry),
	}
}

// GetOrCreate returns the cached context for sessionPath, creating one on
// first use. Creation requires a previously initialized session: a missing
// session file is an error on this path. Concurrent calls for the same path
// are collapsed into a single creation.
func (c *ContextCache) GetOrCreate(sessionPath string) (Context, error) {
	if ctx := c.lookup(sessionPath); ctx != nil {
		return ctx, nil
	}

	v, err, _ := c.group.Do(sessionPath, func() (interface{}, error) {
		if ctx := c.lookup(sessionPath); ctx != nil {
			return ctx, nil
		}

		if _, err := c.store.Load(sessionPath); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil, fmt.Errorf("rendering requires a previously initialized session: %w", err)
			}
			return nil, err
		}

		ctx, err := c.factory(sessionPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create browser context for %s: %w", sessionPath, err)
		}

		c.mu.Lock()
		c.entries[sessionPath] = &cacheEntry{ctx: ctx, lastUsed: time.Now()}
		c.mu.Unlock()

		c.log.Info("Browser context created.", zap.String("session_path", sessionPath))
		return ctx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Context), nil
}

func (c *ContextCache) lookup(sessionPath string) Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sessionPath]; ok {
		e.lastUsed = time.Now()
		return e.ctx
	}
	return nil
}

// Len reports the number of live cached contexts.
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run evicts idle contexts until ctx is canceled. Returns immediately when
// eviction is disabled.
func (c *ContextCache) Run(ctx context.Context) {
	if c.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(c.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.evictIdle(now)
		}
	}
}

func (c *ContextCache) evictIdle(now time.Time) {
	c.mu.Lock()
	expired := make(map[string]*cacheEntry)
	for path, e := range c.entries {
		if now.Sub(e.lastUsed) > c.idleTTL {
			expired[path] = e
			delete(c.entries, path)
		}
	}
	c.mu.Unlock()

	for path, e := range expired {
		c.persistAndClose(path, e.ctx)
		c.log.Info("Evicted idle browser context.", zap.String("session_path", path))
	}
}

// PersistAndCloseAll persists every cached context's state to its session
// file and closes it, continuing past individual failures so one bad context
// cannot block cleanup of the rest. Used on shutdown.
func (c *ContextCache) PersistAndCloseAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for path, e := range entries {
		c.persistAndClose(path, e.ctx)
	}
}

func (c *ContextCache) persistAndClose(path string, ctx Context) {
	unlock := c.locks.Lock(path)
	if err := ctx.PersistState(path); err != nil {
		c.log.Warn("Failed to persist session state from context.", zap.String("session_path", path), zap.Error(err))
	}
	unlock()

	if err := ctx.Close(); err != nil {
		c.log.Warn("Failed to close browser context.", zap.String("session_path", path), zap.Error(err))
	}
}
