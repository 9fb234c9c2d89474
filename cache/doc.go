// Package cache implements the local caching layer in front of the remote
// store: a sharded in-memory tier with pluggable eviction, backed by an
// optional slower secondary tier.
//
// # Design
//
//   - Concurrency: the memory tier is split into shards, each protected by a
//     mutex. The default shard count is chosen by a heuristic
//     (ReasonableShardCount) and is a power of two.
//
//   - Storage: each shard keeps a map[string]*entry for lookups and an
//     intrusive MRU↔LRU doubly linked list for ordering. Entries carry the
//     bookkeeping the stats and policies need: stored-at, last-access,
//     access count, and approximate size in bytes.
//
//   - Policies: eviction is pluggable via the policy package. LRU is the
//     default. The manager itself switches to LFU (and may grow capacity)
//     when the observed hit rate stays below the configured floor, on the
//     theory that the access pattern is bursty rather than recency-biased.
//     Switching back is damped by a minimum dwell time so the policy never
//     flaps.
//
//   - TTL: entries expire lazily on read, and a janitor goroutine sweeps
//     expired entries periodically so memory stays bounded independent of
//     read traffic.
//
//   - Tiers: on a memory miss the secondary tier (see Tier; a Redis
//     implementation lives in cache/redistier) is consulted, and a still
//     valid copy is promoted into memory. Writes go through both tiers.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals;
//     NoopMetrics is the default. The prom adapter in metrics/prom exports
//     them.
//
// All methods on Manager are safe for concurrent use. Typical operation cost
// is O(1) expected: one map access plus constant pointer fixes.
package cache
