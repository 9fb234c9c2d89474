package cache

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictPolicy: removed by the active eviction policy (LRU/LFU).
	EvictPolicy EvictReason = iota
	// EvictTTL: expired by TTL (lazy on access or via the janitor sweep).
	EvictTTL
	// EvictCapacity: removed to satisfy the byte-size limit.
	EvictCapacity
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, bytes int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                          {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) Evict(EvictReason)             {}
func (NoopMetrics) Size(entries int, bytes int64) {}

var _ Metrics = NoopMetrics{}
