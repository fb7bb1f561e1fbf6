package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
)

// ErrCatalogUnavailable is returned when no snapshot has ever been loaded and
// the refresh failed.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Fetcher reads the full supplier and product catalogs from the inventory
// service. Implementations handle their own retries.
type Fetcher interface {
	ListSuppliers(ctx context.Context) ([]domain.CatalogEntry, error)
	ListProducts(ctx context.Context) ([]domain.CatalogEntry, error)
}

// Cache serves an immutable catalog snapshot and refreshes it wholesale once
// it falls outside the freshness window.
type Cache struct {
	fetcher   Fetcher
	freshness time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time

	snap     atomic.Pointer[Snapshot]
	degraded atomic.Bool
	group    singleflight.Group
}

func NewCache(fetcher Fetcher, freshness time.Duration, logger logrus.FieldLogger) *Cache {
	if logger == nil {
		logger = logx.Logger()
	}
	return &Cache{
		fetcher:   fetcher,
		freshness: freshness,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns the current snapshot, refreshing first when it is stale.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	if snap := c.snap.Load(); snap != nil && c.now().Sub(snap.FetchedAt) < c.freshness {
		return snap, nil
	}
	return c.refresh(ctx)
}

// Refresh forces a reload regardless of age. Used by the scheduled pre-warm.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx)
}

// Current returns the last loaded snapshot without refreshing. It is nil
// while the cache is cold.
func (c *Cache) Current() *Snapshot {
	return c.snap.Load()
}

// Degraded reports whether the last refresh failed and a stale snapshot is
// being served.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *Cache) load(ctx context.Context) (*Snapshot, error) {
	started := c.now()
	var suppliers, products []domain.CatalogEntry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		suppliers, err = c.fetcher.ListSuppliers(gctx)
		if err != nil {
			return fmt.Errorf("list suppliers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = c.fetcher.ListProducts(gctx)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		prev := c.snap.Load()
		if prev == nil {
			logx.LogError(c.logger, "catalog", "load", "cold cache refresh failed", nil, err)
			return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
		}
		c.degraded.Store(true)
		c.logger.WithFields(logrus.Fields{
			"age":   c.now().Sub(prev.FetchedAt).Round(time.Second).String(),
			"error": err.Error(),
		}).Warn("catalog refresh failed, serving stale snapshot")
		return prev, nil
	}

	snap := NewSnapshot(suppliers, products, c.now())
	c.snap.Store(snap)
	c.degraded.Store(false)
	c.logger.WithFields(logrus.Fields{
		"suppliers": len(suppliers),
		"products":  len(products),
		"took":      c.now().Sub(started).Round(time.Millisecond).String(),
	}).Info("catalog refreshed")
	return snap, nil
}
