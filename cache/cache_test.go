package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// fakeTier is an in-memory secondary tier with absolute deadlines.
type fakeTier struct {
	mu   sync.Mutex
	m    map[string]fakeTierEntry
	gets int
	puts int
	dels int
}

type fakeTierEntry struct {
	val []byte
	exp time.Time // zero = no expiry
}

func newFakeTier() *fakeTier { return &fakeTier{m: make(map[string]fakeTierEntry)} }

func (t *fakeTier) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gets++
	e, ok := t.m[key]
	if !ok {
		return nil, 0, false, nil
	}
	ttl := time.Duration(0)
	if !e.exp.IsZero() {
		ttl = time.Until(e.exp)
		if ttl <= 0 {
			delete(t.m, key)
			return nil, 0, false, nil
		}
	}
	return e.val, ttl, true, nil
}

func (t *fakeTier) Put(_ context.Context, key string, val []byte, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.puts++
	e := fakeTierEntry{val: val}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	t.m[key] = e
	return nil
}

func (t *fakeTier) Delete(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dels++
	delete(t.m, key)
	return nil
}

// Uses a fake clock to avoid timing flakiness.
// Ensures that per-entry TTL is respected on read.
func TestManager_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	m := New(Options{Capacity: 4, Clock: clk})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	_ = m.Put(ctx, "Players/x", []byte("v"), 100*time.Millisecond)
	if _, ok := m.Get(ctx, "Players/x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.Advance(200 * time.Millisecond)
	if _, ok := m.Get(ctx, "Players/x"); ok {
		t.Fatal("expired hit")
	}
}

// Deterministic LRU eviction: single shard, small capacity.
// Accessing "a" promotes it; inserting "c" evicts LRU ("b").
func TestManager_EvictionLRU(t *testing.T) {
	t.Parallel()

	m := New(Options{Capacity: 2, Shards: 1})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	_ = m.Put(ctx, "a", []byte("1"), 0)
	_ = m.Put(ctx, "b", []byte("2"), 0)

	if _, ok := m.Get(ctx, "a"); !ok { // promote a -> MRU
		t.Fatal("expect hit for a")
	}
	_ = m.Put(ctx, "c", []byte("3"), 0) // overflow -> evict LRU (b)

	if _, ok := m.Get(ctx, "b"); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("a must survive (promoted)")
	}
	if v, ok := m.Get(ctx, "c"); !ok || string(v) != "3" {
		t.Fatal("c must be present")
	}
}

// Invalidate clears both tiers and is idempotent.
func TestManager_InvalidateBothTiers(t *testing.T) {
	t.Parallel()

	tier := newFakeTier()
	m := New(Options{Capacity: 8, Secondary: tier})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	_ = m.Put(ctx, "Players/p3", []byte("v"), time.Minute)

	if err := m.Invalidate(ctx, "Players/p3"); err != nil {
		t.Fatal(err)
	}
	if err := m.Invalidate(ctx, "Players/p3"); err != nil {
		t.Fatal("second invalidate must be a no-op, got", err)
	}
	if _, ok := m.Get(ctx, "Players/p3"); ok {
		t.Fatal("entry must be gone from both tiers")
	}
	if len(tier.m) != 0 {
		t.Fatal("secondary copy must be deleted")
	}
}

// A memory miss with a valid secondary copy promotes it into memory;
// the next read is served without touching the secondary again.
func TestManager_SecondaryPromotion(t *testing.T) {
	t.Parallel()

	tier := newFakeTier()
	_ = tier.Put(context.Background(), "Players/p9", []byte("warm"), time.Minute)

	m := New(Options{Capacity: 8, Secondary: tier})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	v, ok := m.Get(ctx, "Players/p9")
	if !ok || string(v) != "warm" {
		t.Fatalf("tier hit expected, got ok=%v v=%q", ok, v)
	}
	before := tier.gets
	if _, ok := m.Get(ctx, "Players/p9"); !ok {
		t.Fatal("promoted entry must hit memory")
	}
	if tier.gets != before {
		t.Fatal("second read must not consult the secondary tier")
	}

	st := m.Stats()
	if st.Hits != 2 || st.Misses != 0 {
		t.Fatalf("stats hits=%d misses=%d, want 2/0 (tier hit counts as hit)", st.Hits, st.Misses)
	}
}

// Write-through lands in both tiers.
func TestManager_WriteThrough(t *testing.T) {
	t.Parallel()

	tier := newFakeTier()
	m := New(Options{Capacity: 8, Secondary: tier})
	t.Cleanup(func() { _ = m.Close() })

	_ = m.Put(context.Background(), "Players/p1", []byte("v5"), time.Minute)
	if tier.puts != 1 {
		t.Fatalf("secondary puts = %d, want 1", tier.puts)
	}
}

// The janitor sweep removes expired entries without any read traffic.
func TestShard_SweepExpired(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	m := New(Options{Capacity: 8, Shards: 1, Clock: clk})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	_ = m.Put(ctx, "a", []byte("1"), time.Second)
	_ = m.Put(ctx, "b", []byte("2"), time.Hour)

	clk.Advance(2 * time.Second)
	removed := m.shards[0].SweepExpired(clk.Now().UnixNano())
	if removed != 1 {
		t.Fatalf("swept %d entries, want 1", removed)
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
}

// Sustained low hit rate flips the policy to LFU and grows capacity; a
// recovered hit rate flips back only after the dwell time.
func TestManager_AdaptivePolicySwitch(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	m := New(Options{
		Capacity: 4,
		Shards:   1,
		Clock:    clk,
		Adaptive: AdaptiveOptions{
			HitRateFloor:    0.70,
			SustainChecks:   2,
			MinDwell:        time.Minute,
			CapacityCeiling: 8,
		},
	})
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	_ = m.Put(ctx, "k", []byte("v"), 0)

	lowHitRate := func() {
		m.Get(ctx, "k")       // hit
		m.Get(ctx, "absent1") // miss
		m.Get(ctx, "absent2") // miss
	}

	clk.Advance(2 * time.Minute) // past dwell since construction
	lowHitRate()
	m.evaluatePolicy()
	if m.Stats().Policy != "lru" {
		t.Fatal("one low tick must not switch yet")
	}
	lowHitRate()
	m.evaluatePolicy()

	st := m.Stats()
	if st.Policy != "lfu" {
		t.Fatalf("policy = %s, want lfu after sustained low hit rate", st.Policy)
	}
	if st.Capacity != 5 {
		t.Fatalf("capacity = %d, want 5 (grown by 25%%)", st.Capacity)
	}

	// Recovery: high hit rate, but within dwell nothing changes.
	highHitRate := func() {
		for i := 0; i < 5; i++ {
			m.Get(ctx, "k")
		}
	}
	highHitRate()
	m.evaluatePolicy()
	highHitRate()
	m.evaluatePolicy()
	if m.Stats().Policy != "lfu" {
		t.Fatal("switch back must wait out the dwell time")
	}

	clk.Advance(2 * time.Minute)
	highHitRate()
	m.evaluatePolicy()
	highHitRate()
	m.evaluatePolicy()
	if got := m.Stats().Policy; got != "lru" {
		t.Fatalf("policy = %s, want lru after recovery", got)
	}
}

// Average entry age advances with the clock.
func TestManager_StatsAvgAge(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	m := New(Options{Capacity: 4, Shards: 1, Clock: clk})
	t.Cleanup(func() { _ = m.Close() })

	_ = m.Put(context.Background(), "a", []byte("1"), 0)
	clk.Advance(10 * time.Second)

	if got := m.Stats().AvgEntryAge; got != 10*time.Second {
		t.Fatalf("avg age = %v, want 10s", got)
	}
}
