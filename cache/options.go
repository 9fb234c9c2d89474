package cache

import (
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/IvanBrykalov/gatedstore/policy"
)

// AdaptiveOptions tunes the hit-rate driven policy controller.
// Zero values take the defaults listed on each field.
type AdaptiveOptions struct {
	// Disabled turns the controller off entirely; the initial policy stays.
	Disabled bool

	// HitRateFloor is the hit rate below which the access pattern is
	// considered bursty and LFU takes over. Default 0.70.
	HitRateFloor float64

	// SustainChecks is how many consecutive evaluation ticks the hit rate
	// must stay on one side of the floor before the controller acts.
	// Default 3.
	SustainChecks int

	// MinDwell is the minimum time between policy switches in either
	// direction. Default 5m.
	MinDwell time.Duration

	// CapacityCeiling caps adaptive capacity growth (entries). Growth is
	// disabled when it does not exceed the configured Capacity. Default 0.
	CapacityCeiling int

	// GrowthStep is the fractional capacity increase applied alongside a
	// switch to LFU (0.25 = +25%). Default 0.25.
	GrowthStep float64
}

// Options configures the cache manager. Zero values are safe; sane defaults
// are applied in New():
//   - nil Policy   => LRU
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
//   - nil Clock    => real clock
type Options struct {
	// Capacity is the memory-tier entry limit.
	Capacity int

	// Shards defines the number of shards. If 0, an automatic value is
	// chosen (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Policy is the initial eviction policy; nil => LRU.
	Policy policy.Policy

	// DefaultTTL applies to Put when the caller passes ttl <= 0.
	// Zero means entries without an explicit TTL never expire.
	DefaultTTL time.Duration

	// MaxBytes limits total approximate payload bytes (0 = disabled).
	// Shards split the budget evenly.
	MaxBytes int64

	// Secondary is the optional slower tier. Nil disables it.
	Secondary Tier

	// SweepInterval is how often the janitor removes expired entries and
	// the adaptive controller re-evaluates. Default 30s.
	SweepInterval time.Duration

	// Adaptive tunes the hit-rate driven policy controller.
	Adaptive AdaptiveOptions

	// OnEvict is called on eviction under the shard lock; keep it light.
	OnEvict func(key string, val []byte, reason EvictReason)

	// Metrics receives Hit/Miss/Evict/Size signals. Nil => NoopMetrics.
	Metrics Metrics

	// Logger for tier errors and policy switches. Nil => discard.
	Logger *slog.Logger

	// Clock overrides the time source (tests). Nil => real clock.
	Clock clockwork.Clock
}

func (o *Options) withDefaults() {
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.Adaptive.HitRateFloor <= 0 || o.Adaptive.HitRateFloor >= 1 {
		o.Adaptive.HitRateFloor = 0.70
	}
	if o.Adaptive.SustainChecks <= 0 {
		o.Adaptive.SustainChecks = 3
	}
	if o.Adaptive.MinDwell <= 0 {
		o.Adaptive.MinDwell = 5 * time.Minute
	}
	if o.Adaptive.GrowthStep <= 0 {
		o.Adaptive.GrowthStep = 0.25
	}
}
