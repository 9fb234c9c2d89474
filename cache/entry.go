package cache

// entry is an intrusive doubly linked list element owned by a shard.
// It stores the value alongside list links and the metadata used by
// eviction policies, TTL handling, and stats.
type entry struct {
	key string
	val []byte

	// Intrusive list links: head is MRU, tail is LRU.
	prev *entry
	next *entry

	// Absolute expiration deadline in UnixNano. Zero means "no TTL".
	exp int64

	// storedAt is when the value was written (UnixNano).
	storedAt int64
	// lastAccess is the last read (UnixNano); updated on every hit.
	lastAccess int64
	// hits counts reads since admission; LFU buckets by it on re-admission.
	hits uint32

	// size is the approximate payload size in bytes.
	size int32
}

// Key returns the entry key (part of policy.Node).
func (e *entry) Key() string { return e.key }

// Hits returns the access count (part of policy.Node).
func (e *entry) Hits() uint32 { return e.hits }
