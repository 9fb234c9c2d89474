package cache

import (
	"sync"

	"github.com/IvanBrykalov/gatedstore/internal/util"
	"github.com/IvanBrykalov/gatedstore/policy"
)

// shard is an independent partition of the memory tier with its own lock,
// map, and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard struct {
	// ---- guarded by mu ----
	mu       sync.Mutex
	m        map[string]*entry
	head     *entry // MRU
	tail     *entry // LRU
	len      int    // number of resident entries
	bytes    int64  // total approximate payload bytes
	cap      int    // per-shard entry capacity (mutable: adaptive growth)
	maxBytes int64  // per-shard byte limit (0 = disabled)

	// Policy and options (policy uses hooks to manipulate the list).
	pol policy.ShardPolicy
	opt Options

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// newShard initializes a shard with per-shard capacity, policy factory, and
// options. maxBytes is derived by splitting opt.MaxBytes evenly across shards.
func newShard(capacity int, pol policy.Policy, opt Options, shards int) *shard {
	s := &shard{
		m:   make(map[string]*entry, capacity),
		cap: capacity,
		opt: opt,
	}
	if opt.MaxBytes > 0 {
		s.maxBytes = (opt.MaxBytes + int64(shards) - 1) / int64(shards)
	}
	s.pol = pol.New(shardHooks{s: s})
	return s
}

// Set inserts or updates an entry and promotes it according to the policy.
// exp is an absolute UnixNano deadline (0 = no TTL).
func (s *shard) Set(k string, v []byte, exp, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.m[k]; ok {
		// In-place update: adjust the byte delta, refresh metadata, promote.
		s.bytes += int64(len(v)) - int64(e.size)
		e.val = v
		e.exp = exp
		e.size = int32(len(v))
		e.storedAt = now

		s.pol.OnUpdate(e)
		s.enforceLimitsLocked()
		return
	}

	e := &entry{key: k, val: v, exp: exp, storedAt: now, lastAccess: now, size: int32(len(v))}
	s.m[k] = e

	if ev := s.pol.OnAdd(e); ev != nil {
		s.evictEntry(ev.(*entry), EvictPolicy)
	}
	s.enforceLimitsLocked()
}

// Get returns the value and promotes the entry according to the policy.
// Expired entries are evicted and reported as a miss.
func (s *shard) Get(k string, now int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		return nil, false
	}
	if e.exp != 0 && now > e.exp {
		s.evictEntry(e, EvictTTL)
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		return nil, false
	}

	e.hits++
	e.lastAccess = now
	s.pol.OnGet(e)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return e.val, true
}

// Remove deletes an entry by key. Returns true if the entry existed.
// Explicit removal is not counted as an eviction.
func (s *shard) Remove(k string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		return false
	}
	s.pol.OnRemove(e)
	s.removeEntry(e)
	delete(s.m, k)
	return true
}

// Len returns the number of resident entries in this shard.
func (s *shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len
}

// SweepExpired removes every entry past its deadline. Called by the janitor
// so expired entries don't linger when keys stop being read.
func (s *shard) SweepExpired(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*entry
	for _, e := range s.m {
		if e.exp != 0 && now > e.exp {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		s.evictEntry(e, EvictTTL)
	}
	return len(victims)
}

// SetCapacity applies a new per-shard entry limit, shedding entries if the
// limit shrank.
func (s *shard) SetCapacity(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if capacity < 1 {
		capacity = 1
	}
	s.cap = capacity
	s.enforceLimitsLocked()
}

// SwapPolicy rebuilds the shard's policy state in place. Entries are
// re-admitted oldest-first so the recency order survives the switch, and the
// new policy sees each entry's accumulated hit count.
func (s *shard) SwapPolicy(pol policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot MRU->LRU order, then reset the list; re-admission rebuilds it.
	ordered := make([]*entry, 0, s.len)
	for e := s.head; e != nil; e = e.next {
		ordered = append(ordered, e)
	}
	s.head, s.tail = nil, nil
	s.len = 0
	s.bytes = 0

	s.pol = pol.New(shardHooks{s: s})
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		e.prev, e.next = nil, nil
		if ev := s.pol.OnAdd(e); ev != nil {
			s.evictEntry(ev.(*entry), EvictPolicy)
		}
	}
}

// ageSum returns the total age of resident entries at now, plus the count.
// Used by Manager.Stats to report the average entry age.
func (s *shard) ageSum(now int64) (sum int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.head; e != nil; e = e.next {
		sum += now - e.storedAt
	}
	return sum, s.len
}

// -------------------- internals (mu held) --------------------

// insertFront inserts e at MRU in O(1).
func (s *shard) insertFront(e *entry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	s.len++
	s.bytes += int64(e.size)
}

// moveToFront promotes e to MRU in O(1).
func (s *shard) moveToFront(e *entry) {
	if e == s.head {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

// removeEntry unlinks e and updates counters in O(1).
func (s *shard) removeEntry(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.head == e {
		s.head = e.next
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
	s.len--
	s.bytes -= int64(e.size)
	if s.bytes < 0 {
		s.bytes = 0
	}
}

// evictEntry removes the entry, updates metrics/counters, and notifies the policy.
func (s *shard) evictEntry(e *entry, reason EvictReason) {
	s.pol.OnRemove(e)
	s.removeEntry(e)
	delete(s.m, e.key)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(reason)
	if cb := s.opt.OnEvict; cb != nil {
		// Called under the shard lock; keep callbacks lightweight.
		cb(e.key, e.val, reason)
	}
}

// enforceLimitsLocked evicts policy victims until count and byte limits hold.
func (s *shard) enforceLimitsLocked() {
	for s.len > s.cap {
		v := s.victimLocked()
		if v == nil {
			break
		}
		s.evictEntry(v, EvictPolicy)
	}
	if s.maxBytes > 0 {
		for s.bytes > s.maxBytes {
			v := s.victimLocked()
			if v == nil {
				break
			}
			s.evictEntry(v, EvictCapacity)
		}
	}
	s.opt.Metrics.Size(s.len, s.bytes)
}

// victimLocked asks the policy for a candidate, falling back to the list tail.
func (s *shard) victimLocked() *entry {
	if v := s.pol.Victim(); v != nil {
		return v.(*entry)
	}
	return s.tail
}

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks struct{ s *shard }

func (h shardHooks) MoveToFront(x policy.Node) { h.s.moveToFront(x.(*entry)) }
func (h shardHooks) PushFront(x policy.Node)   { h.s.insertFront(x.(*entry)) }
func (h shardHooks) Remove(x policy.Node)      { h.s.removeEntry(x.(*entry)) }
func (h shardHooks) Back() policy.Node {
	if h.s.tail == nil {
		return nil
	}
	return h.s.tail
}
func (h shardHooks) Len() int { return h.s.len }
