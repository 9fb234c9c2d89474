// Package client is the data-access facade: the single entry point that
// composes the cache, the request manager, and the metrics aggregator into
// get/set/delete/list operations against the remote store.
//
// Every logical call performs at most one remote dispatch (a cache hit
// elides it entirely), records exactly one cache outcome event, and leaves
// the cache consistent with the most recent successful remote result.
package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/gatedstore/budget"
	"github.com/IvanBrykalov/gatedstore/cache"
	"github.com/IvanBrykalov/gatedstore/internal/singleflight"
	"github.com/IvanBrykalov/gatedstore/metrics"
	"github.com/IvanBrykalov/gatedstore/request"
)

// Client is the facade. Construct with New; all methods are goroutine-safe.
type Client struct {
	opt   Options
	cache *cache.Manager
	req   *request.Manager
	agg   *metrics.Aggregator
	// ownAgg: Close tears the aggregator down only when we built it.
	ownAgg bool
	rec    request.Recorder
	sf     singleflight.Group
	log    *slog.Logger
}

// New composes the components. Options.Store is required.
func New(opt Options) *Client {
	if opt.Store == nil {
		panic("client: Options.Store is required")
	}
	opt.withDefaults()

	agg := opt.Aggregator
	ownAgg := false
	if agg == nil {
		agg = metrics.New(metrics.Options{
			WindowSize:    opt.WindowSize,
			Retention:     opt.Retention,
			AlertCooldown: opt.AlertCooldown,
			Thresholds:    opt.Thresholds,
			Logger:        opt.Logger,
			Clock:         opt.Clock,
		})
		ownAgg = true
	}
	rec := opt.Recorder
	if rec == nil {
		rec = agg
	}

	cm := cache.New(cache.Options{
		Capacity:   opt.CacheCapacity,
		DefaultTTL: opt.DefaultTTL,
		Secondary:  opt.Secondary,
		Adaptive:   opt.Adaptive,
		Metrics:    opt.CacheMetrics,
		Logger:     opt.Logger,
		Clock:      opt.Clock,
	})

	rm := request.New(request.Options{
		Store:       opt.Store,
		Budgets:     budget.NewSet(opt.BudgetCapacity, opt.BudgetRefill, opt.Clock),
		MaxAttempts: opt.MaxAttempts,
		BaseDelay:   opt.BaseDelay,
		BatchSize:   opt.BatchSize,
		Throttle:    opt.Throttle,
		Recorder:    rec,
		Logger:      opt.Logger,
		Clock:       opt.Clock,
	})

	return &Client{
		opt:    opt,
		cache:  cm,
		req:    rm,
		agg:    agg,
		ownAgg: ownAgg,
		rec:    rec,
		log:    opt.Logger,
	}
}

// cacheKey is the composite key both cache tiers use.
func cacheKey(store, key string) string { return store + "/" + key }

// Get returns the value for key. The cache is checked first; a miss is
// dispatched through the request manager with concurrent same-key loads
// coalesced, and a found value is written through with the call's TTL.
// An absent key is not an error: found=false, err=nil.
func (c *Client) Get(ctx context.Context, store, key string, opts ...CallOption) ([]byte, bool, error) {
	co := c.callOpts(opts)
	ck := cacheKey(store, key)

	if v, ok := c.cache.Get(ctx, ck); ok {
		c.rec.Record(string(budget.Read), metrics.MetricCacheHit, 1)
		return v, true, nil
	}
	c.rec.Record(string(budget.Read), metrics.MetricCacheMiss, 1)

	res, _, err := c.sf.Do(ctx, ck, func() (singleflight.Result, error) {
		r, err := c.req.Submit(ctx, request.Operation{
			Verb:        request.VerbGet,
			Store:       store,
			Key:         key,
			Priority:    co.priority,
			MaxAttempts: co.maxAttempts,
		})
		if err != nil {
			return singleflight.Result{}, err
		}
		if r.Found {
			if perr := c.cache.Put(ctx, ck, r.Value, co.ttl); perr != nil {
				c.log.Warn("secondary tier write failed", "key", ck, "err", perr)
			}
		}
		return singleflight.Result{Value: r.Value, Found: r.Found}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Found, nil
}

// Set writes value through the request manager. Writes are never served from
// cache; a successful remote write replaces the cached entry so a subsequent
// Get within TTL does not re-contact the remote store.
func (c *Client) Set(ctx context.Context, store, key string, value []byte, opts ...CallOption) error {
	co := c.callOpts(opts)
	_, err := c.req.Submit(ctx, request.Operation{
		Verb:        request.VerbSet,
		Store:       store,
		Key:         key,
		Value:       value,
		Priority:    co.priority,
		MaxAttempts: co.maxAttempts,
	})
	if err != nil {
		return err
	}
	ck := cacheKey(store, key)
	if perr := c.cache.Put(ctx, ck, value, co.ttl); perr != nil {
		c.log.Warn("secondary tier write failed", "key", ck, "err", perr)
	}
	return nil
}

// Delete dispatches the remote delete and invalidates the cache entry
// regardless of the remote outcome: after an ambiguous failure a stale
// cached read is worse than an extra miss.
func (c *Client) Delete(ctx context.Context, store, key string, opts ...CallOption) error {
	co := c.callOpts(opts)
	_, err := c.req.Submit(ctx, request.Operation{
		Verb:        request.VerbDelete,
		Store:       store,
		Key:         key,
		Priority:    co.priority,
		MaxAttempts: co.maxAttempts,
	})
	ck := cacheKey(store, key)
	if ierr := c.cache.Invalidate(ctx, ck); ierr != nil {
		c.log.Warn("cache invalidation failed", "key", ck, "err", ierr)
	}
	return err
}

// List returns a restartable iterator over the keys of store with the given
// prefix. Each page fetch is one scheduled operation subject to budget and
// retry; no page is fetched before the first Next call.
func (c *Client) List(ctx context.Context, store, prefix string, opts ...CallOption) *KeyIterator {
	co := c.callOpts(opts)
	return &KeyIterator{c: c, ctx: ctx, store: store, prefix: prefix, co: co}
}

// GetMetrics returns the per-metric series for one category over timeRange.
func (c *Client) GetMetrics(category string, timeRange time.Duration) metrics.Snapshot {
	return c.agg.GetMetrics(category, timeRange)
}

// ActiveAlerts returns the currently active threshold alerts.
func (c *Client) ActiveAlerts() []metrics.Alert {
	return c.agg.ActiveAlerts()
}

// Report builds an operational summary over timeRange.
func (c *Client) Report(timeRange time.Duration) metrics.Report {
	return c.agg.Summary(timeRange)
}

// TopCategories ranks categories by the total of metric over timeRange.
func (c *Client) TopCategories(metric string, n int, timeRange time.Duration) []metrics.Ranked {
	return c.agg.TopN(metric, n, timeRange)
}

// Stats is a combined health view of the composed components.
type Stats struct {
	Cache      cache.Stats       `json:"cache"`
	Budgets    []budget.Snapshot `json:"budgets"`
	QueueDepth int               `json:"queue_depth"`
}

// Stats returns current cache, budget, and scheduler state.
func (c *Client) Stats() Stats {
	return Stats{
		Cache:      c.cache.Stats(),
		Budgets:    c.req.Budgets().Snapshots(),
		QueueDepth: c.req.QueueDepth(),
	}
}

// Close shuts the components down in dependency order: scheduler first so no
// new cache writes arrive, then the cache, then the aggregator (when owned).
func (c *Client) Close() error {
	err := c.req.Close()
	if cerr := c.cache.Close(); err == nil {
		err = cerr
	}
	if c.ownAgg {
		if aerr := c.agg.Close(); err == nil {
			err = aerr
		}
	}
	return err
}
