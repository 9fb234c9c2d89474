// Package metrics turns the stream of discrete operation events emitted by
// the facade and the request manager into time-windowed summaries, threshold
// alerts, and derived reports.
package metrics

import "time"

// Standard metric names recorded by the facade and request manager.
// Counters carry value 1 per event; latency carries milliseconds.
const (
	MetricLatency   = "latency_ms"
	MetricSuccess   = "success"
	MetricFailure   = "failure"
	MetricRetry     = "retry"
	MetricCacheHit  = "cache_hit"
	MetricCacheMiss = "cache_miss"
	MetricThrottled = "throttled"
)

// Event is one recorded sample. Producers push events into the aggregator's
// channel; the consumer goroutine owns all window state.
type Event struct {
	Category string
	Metric   string
	Value    float64
	At       time.Time
}

// Summary describes the samples of one metric within one window.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P95   float64 `json:"p95"`
}

// Series is the read-side view of one metric over a time range: raw values
// plus the merged summary.
type Series struct {
	Values  []float64 `json:"values"`
	Summary Summary   `json:"summary"`
}

// Snapshot maps metric name to its series for one category and time range.
type Snapshot map[string]Series
