package controller

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/saferoute/route_scoring/internal/contract"
	"github.com/saferoute/route_scoring/kvstore"
	"github.com/saferoute/route_scoring/obs"
)

const defaultStoreTimeout = 2 * time.Second

// Cache fronts the remote key/value store. Store failures are logged and
// reported as misses or skipped writes; they never reach the caller.
type Cache struct {
	store   kvstore.Store
	timeout time.Duration
	logger  log.Logger
}

// NewCache wraps store. A nil store disables caching.
func NewCache(store kvstore.Store, timeout time.Duration, logger log.Logger) *Cache {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Cache{
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Get returns the stored response for fingerprint.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		obs.RecordCacheLookup("error")
		level.Warn(c.logger).Log("msg", "cache read failed, bypassing", "fingerprint", fingerprint, "err", err)
		return nil, false
	}
	if !ok {
		obs.RecordCacheLookup(contract.CacheMiss)
		return nil, false
	}
	obs.RecordCacheLookup(contract.CacheHit)
	return value, true
}

// Set stores the response under fingerprint. The write outlives the caller's
// cancellation but not the store timeout.
func (c *Cache) Set(ctx context.Context, fingerprint string, value []byte) {
	if c == nil || c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.store.Put(ctx, fingerprint, value); err != nil {
		obs.IncCacheWriteError()
		level.Warn(c.logger).Log("msg", "cache write failed, skipping", "fingerprint", fingerprint, "err", err)
	}
}

// Ping reports store reachability when the store supports it.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	if p, ok := c.store.(kvstore.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
