// Package tiered implements a two-level cache: an in-process L1 in front of
// an optional shared L2.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/ForgeBot/internal/port/cache"
)

// Cache checks L1 first, then L2, backfilling L1 on an L2 hit. L2 is best
// effort: its failures are logged and treated as misses so that a broker
// outage degrades to L1-only caching.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. l2 may be nil. l1Expire bounds how long L2
// backfills live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get returns the value for key from the first tier that has it.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || c.l2 == nil {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
		return val, true, nil
	}
	return nil, false, nil
}

// Set writes to both tiers.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, min(ttl, c.l1Expire)); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			slog.WarnContext(ctx, "l2 cache set failed", "key", key, "error", err)
		}
	}
	return nil
}

// Delete removes key from both tiers. A failed L2 delete leaves the shared
// entry to expire on its own TTL.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			slog.WarnContext(ctx, "l2 cache delete failed", "key", key, "error", err)
		}
	}
	return nil
}
