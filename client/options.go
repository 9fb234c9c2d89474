package client

import (
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/IvanBrykalov/gatedstore/cache"
	"github.com/IvanBrykalov/gatedstore/metrics"
	"github.com/IvanBrykalov/gatedstore/remote"
	"github.com/IvanBrykalov/gatedstore/request"
)

// Options configures a Client. Store is required; everything else has a
// default chosen for a mid-size deployment.
type Options struct {
	// Store is the remote backend every miss and write is dispatched to.
	Store remote.RemoteStore

	// DefaultTTL is the cache lifetime applied when a call does not override
	// it. Default 5m.
	DefaultTTL time.Duration
	// MaxAttempts is the default retry ceiling. Default 3.
	MaxAttempts int
	// BaseDelay scales the linear retry backoff. Default 100ms.
	BaseDelay time.Duration

	// BudgetCapacity is the per-category quota per refill window. Default 100.
	BudgetCapacity int
	// BudgetRefill is the refill window. Default 1s.
	BudgetRefill time.Duration
	// BatchSize caps dispatches per category per scheduler cycle. Default 16.
	BatchSize int
	// Throttle tunes the adaptive admission controller.
	Throttle request.ThrottleOptions

	// CacheCapacity is the memory-tier entry limit. Default 1024.
	CacheCapacity int
	// Secondary is the optional second cache tier (see cache/redistier).
	Secondary cache.Tier
	// Adaptive tunes the LRU/LFU policy controller.
	Adaptive cache.AdaptiveOptions
	// CacheMetrics receives cache tier events (see metrics/prom.CacheAdapter).
	CacheMetrics cache.Metrics

	// WindowSize, Retention, and AlertCooldown configure the internally built
	// aggregator; Thresholds are its alerting rules. Ignored when Aggregator
	// is set.
	WindowSize    time.Duration
	Retention     time.Duration
	AlertCooldown time.Duration
	Thresholds    []metrics.Threshold
	// Aggregator replaces the internally built one. The caller owns its
	// lifecycle.
	Aggregator *metrics.Aggregator
	// Recorder receives every operation event. Default is the aggregator;
	// wrap it (e.g. prom.NewOp) to tee events elsewhere.
	Recorder request.Recorder

	// Logger for component warnings. Nil => discard.
	Logger *slog.Logger
	// Clock overrides the time source (tests). Nil => real clock.
	Clock clockwork.Clock
}

func (o *Options) withDefaults() {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.BudgetCapacity <= 0 {
		o.BudgetCapacity = 100
	}
	if o.BudgetRefill <= 0 {
		o.BudgetRefill = time.Second
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 1024
	}
	if o.WindowSize <= 0 {
		o.WindowSize = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.AlertCooldown <= 0 {
		o.AlertCooldown = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// callOptions are the per-call overrides.
type callOptions struct {
	ttl         time.Duration
	priority    int
	maxAttempts int
	pageSize    int
}

// CallOption overrides one knob for a single call.
type CallOption func(*callOptions)

// WithTTL overrides the cache TTL for this call's write-through.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithPriority sets the scheduling priority (0 lowest .. 9 highest).
func WithPriority(p int) CallOption {
	return func(o *callOptions) { o.priority = p }
}

// WithMaxAttempts overrides the retry ceiling for this call.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) { o.maxAttempts = n }
}

// WithPageSize sets the page size for List.
func WithPageSize(n int) CallOption {
	return func(o *callOptions) { o.pageSize = n }
}

func (c *Client) callOpts(opts []CallOption) callOptions {
	co := callOptions{ttl: c.opt.DefaultTTL}
	for _, fn := range opts {
		fn(&co)
	}
	return co
}
