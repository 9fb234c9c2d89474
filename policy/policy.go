// Package policy defines the pluggable eviction policy contract used by the
// cache's shards. Policies manipulate the shard's intrusive MRU/LRU list
// through hooks and may keep private bookkeeping (frequency buckets, ghost
// lists) on the side.
package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
// Hits reflects how many times the entry was read since admission; the shard
// maintains it, policies only consume it (e.g. to re-bucket entries when a
// policy switch re-admits a warm cache).
type Node interface {
	Key() string
	Hits() uint32
}

// Hooks expose O(1) list operations a policy can use to manipulate the
// shard's intrusive MRU/LRU list. Implementations are provided by the shard.
//
// Concurrency: all hook calls happen under the shard lock.
// Hooks manage only the list; the shard owns the key->node map.
type Hooks interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node)
	// PushFront inserts the node at MRU (used on admission).
	PushFront(Node)
	// Remove detaches the node from the list (map bookkeeping stays with the shard).
	Remove(Node)
	// Back returns the current LRU node (or nil if empty).
	Back() Node
	// Len returns the number of resident nodes in the shard.
	Len() int
}

// ShardPolicy is a per-shard eviction policy instance bound to shard hooks.
// All methods are invoked under the shard lock.
//
// Semantics:
//   - OnAdd may return an eviction candidate of its own (e.g. an overflowing
//     probation queue). The shard evicts that node and then calls OnRemove.
//   - OnGet/OnUpdate record the access however the policy sees fit.
//   - OnRemove updates policy-internal state; the shard performs deletion.
//   - Victim names the entry to evict when the shard must shed one for
//     capacity. A nil return tells the shard to take the list tail.
type ShardPolicy interface {
	OnAdd(Node) (evict Node)
	OnGet(Node)
	OnUpdate(Node)
	OnRemove(Node)
	Victim() Node
}

// Policy is a factory that creates shard-local policy instances bound to a
// particular shard's hooks. Name identifies the policy in stats and logs.
type Policy interface {
	New(Hooks) ShardPolicy
	Name() string
}
