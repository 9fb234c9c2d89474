package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/IvanBrykalov/gatedstore/internal/util"
	"github.com/IvanBrykalov/gatedstore/policy"
	"github.com/IvanBrykalov/gatedstore/policy/lfu"
	"github.com/IvanBrykalov/gatedstore/policy/lru"
)

// Manager owns the two cache tiers. The memory tier is a sharded map with an
// intrusive recency list per shard; the optional secondary tier is consulted
// on memory misses and kept in sync on writes and invalidations.
type Manager struct {
	shards []*shard
	opt    Options
	clock  clockwork.Clock
	log    *slog.Logger

	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}

	// secondary-tier hit counter; memory counters live on the shards.
	tierHits util.PaddedAtomicInt64

	// ---- adaptive policy controller (guarded by ctlMu) ----
	ctlMu      sync.Mutex
	usingLFU   bool
	below      int
	above      int
	lastSwitch time.Time
	lastHits   int64
	lastMiss   int64
	curCap     int
}

// New constructs a Manager and starts its janitor.
func New(opt Options) *Manager {
	if opt.Capacity <= 0 {
		panic("cache: Capacity must be > 0")
	}
	opt.withDefaults()

	pol := opt.Policy
	if pol == nil {
		pol = lru.New()
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	m := &Manager{
		opt:        opt,
		clock:      opt.Clock,
		log:        opt.Logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		curCap:     opt.Capacity,
		lastSwitch: opt.Clock.Now(),
	}
	m.usingLFU = pol.Name() == "lfu"

	perShardCap := (opt.Capacity + sh - 1) / sh
	m.shards = make([]*shard, sh)
	for i := 0; i < sh; i++ {
		m.shards[i] = newShard(perShardCap, pol, opt, sh)
	}

	go m.janitor()
	return m
}

// Get returns the cached value for key. Memory is checked first; on miss the
// secondary tier is consulted and a still-valid copy is promoted into memory
// with its remaining TTL. Tier read errors degrade to a miss.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if m.closed.Load() {
		return nil, false
	}
	now := m.clock.Now().UnixNano()
	if v, ok := m.getShard(key).Get(key, now); ok {
		return v, true
	}
	if m.opt.Secondary == nil {
		return nil, false
	}

	v, ttl, found, err := m.opt.Secondary.Get(ctx, key)
	if err != nil {
		m.log.Warn("secondary tier read failed", "key", key, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	m.tierHits.Add(1)
	m.getShard(key).Set(key, v, m.deadline(ttl, now), now)
	return v, true
}

// Put writes through both tiers. ttl <= 0 falls back to DefaultTTL.
// The memory write always happens; a secondary write failure is returned so
// the caller can log it, but the entry stays served from memory.
func (m *Manager) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return nil
	}
	if ttl <= 0 {
		ttl = m.opt.DefaultTTL
	}
	now := m.clock.Now().UnixNano()
	m.getShard(key).Set(key, val, m.deadline(ttl, now), now)

	if m.opt.Secondary == nil {
		return nil
	}
	return m.opt.Secondary.Put(ctx, key, val, ttl)
}

// Invalidate removes key from both tiers. Calling it for an absent key is a
// no-op, so repeated invalidations are safe.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	if m.closed.Load() {
		return nil
	}
	m.getShard(key).Remove(key)
	if m.opt.Secondary == nil {
		return nil
	}
	return m.opt.Secondary.Delete(ctx, key)
}

// Len returns the total number of resident memory-tier entries.
func (m *Manager) Len() int {
	total := 0
	for _, s := range m.shards {
		total += s.Len()
	}
	return total
}

// Close stops the janitor and marks the manager closed. Future operations
// are ignored.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.stop)
	<-m.done
	return nil
}

// Stats is a point-in-time view of cache health.
type Stats struct {
	Entries     int           `json:"entries"`
	Bytes       int64         `json:"bytes"`
	Capacity    int           `json:"capacity"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	HitRate     float64       `json:"hit_rate"`
	Evictions   uint64        `json:"evictions"`
	AvgEntryAge time.Duration `json:"avg_entry_age"`
	Policy      string        `json:"policy"`
}

// Stats aggregates shard counters. Secondary-tier hits count as hits even
// though the memory shard recorded a miss for the same lookup.
func (m *Manager) Stats() Stats {
	var st Stats
	now := m.clock.Now().UnixNano()
	var ageSum int64
	for _, s := range m.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
		sum, n := s.ageSum(now)
		ageSum += sum
		st.Entries += n
		s.mu.Lock()
		st.Bytes += s.bytes
		s.mu.Unlock()
	}
	tier := m.tierHits.Load()
	st.Hits += tier
	st.Misses -= tier
	if st.Misses < 0 {
		st.Misses = 0
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	if st.Entries > 0 {
		st.AvgEntryAge = time.Duration(ageSum / int64(st.Entries))
	}
	m.ctlMu.Lock()
	st.Capacity = m.curCap
	if m.usingLFU {
		st.Policy = "lfu"
	} else {
		st.Policy = "lru"
	}
	m.ctlMu.Unlock()
	return st
}

// ---- internals ----

func (m *Manager) getShard(key string) *shard {
	h := util.Fnv64a(key)
	return m.shards[util.ShardIndex(h, len(m.shards))]
}

// deadline converts a relative TTL to an absolute UnixNano deadline.
// Non-positive ttl returns 0 (no expiration).
func (m *Manager) deadline(ttl time.Duration, now int64) int64 {
	if ttl <= 0 {
		return 0
	}
	return now + int64(ttl)
}

// janitor periodically sweeps expired entries and lets the adaptive
// controller re-evaluate the eviction policy.
func (m *Manager) janitor() {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.opt.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			now := m.clock.Now().UnixNano()
			for _, s := range m.shards {
				s.SweepExpired(now)
			}
			if !m.opt.Adaptive.Disabled {
				m.evaluatePolicy()
			}
		case <-m.stop:
			return
		}
	}
}

// evaluatePolicy inspects the hit rate since the previous tick and switches
// between LRU and LFU when the rate stays on one side of the floor for
// SustainChecks ticks. Switches are damped by MinDwell in both directions.
func (m *Manager) evaluatePolicy() {
	var hits, misses int64
	for _, s := range m.shards {
		hits += s.hits.Load()
		misses += s.misses.Load()
	}
	hits += m.tierHits.Load()
	misses -= m.tierHits.Load()

	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	dHits := hits - m.lastHits
	dMiss := misses - m.lastMiss
	m.lastHits = hits
	m.lastMiss = misses
	if dHits+dMiss <= 0 {
		return // no traffic this tick; keep state as-is
	}
	rate := float64(dHits) / float64(dHits+dMiss)
	a := m.opt.Adaptive

	if rate < a.HitRateFloor {
		m.below++
		m.above = 0
	} else {
		m.above++
		m.below = 0
	}

	now := m.clock.Now()
	if now.Sub(m.lastSwitch) < a.MinDwell {
		return
	}

	switch {
	case !m.usingLFU && m.below >= a.SustainChecks:
		m.switchLocked(lfu.New(), now)
		m.growCapacityLocked()
		m.log.Info("cache policy switched", "policy", "lfu", "hit_rate", rate)
	case m.usingLFU && m.above >= a.SustainChecks:
		m.switchLocked(lru.New(), now)
		m.log.Info("cache policy switched", "policy", "lru", "hit_rate", rate)
	}
}

func (m *Manager) switchLocked(pol policy.Policy, now time.Time) {
	for _, s := range m.shards {
		s.SwapPolicy(pol)
	}
	m.usingLFU = pol.Name() == "lfu"
	m.lastSwitch = now
	m.below, m.above = 0, 0
}

// growCapacityLocked raises the entry limit by GrowthStep toward the ceiling.
func (m *Manager) growCapacityLocked() {
	ceiling := m.opt.Adaptive.CapacityCeiling
	if ceiling <= m.curCap {
		return
	}
	next := m.curCap + int(float64(m.curCap)*m.opt.Adaptive.GrowthStep)
	if next <= m.curCap {
		next = m.curCap + 1
	}
	if next > ceiling {
		next = ceiling
	}
	m.curCap = next
	per := (next + len(m.shards) - 1) / len(m.shards)
	for _, s := range m.shards {
		s.SetCapacity(per)
	}
	m.log.Info("cache capacity grown", "capacity", next)
}
