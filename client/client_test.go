package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/gatedstore/metrics"
	"github.com/IvanBrykalov/gatedstore/remote"
	"github.com/IvanBrykalov/gatedstore/remote/memstore"
)

// countingStore wraps memstore with per-verb call counters and an optional
// per-key gate so tests can observe and hold remote traffic.
type countingStore struct {
	*memstore.Store
	mu      sync.Mutex
	counts  map[string]int
	gate    map[string]chan struct{}
	entered chan string
}

func newCountingStore() *countingStore {
	return &countingStore{
		Store:   memstore.New(),
		counts:  make(map[string]int),
		gate:    make(map[string]chan struct{}),
		entered: make(chan string, 64),
	}
}

func (s *countingStore) note(op, key string) {
	s.mu.Lock()
	s.counts[op]++
	gate := s.gate[key]
	s.mu.Unlock()
	select {
	case s.entered <- op + " " + key:
	default:
	}
	if gate != nil {
		<-gate
	}
}

func (s *countingStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

func (s *countingStore) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	s.note("get", key)
	return s.Store.Get(ctx, store, key)
}

func (s *countingStore) Set(ctx context.Context, store, key string, value []byte) error {
	s.note("set", key)
	return s.Store.Set(ctx, store, key, value)
}

func (s *countingStore) Delete(ctx context.Context, store, key string) error {
	s.note("delete", key)
	return s.Store.Delete(ctx, store, key)
}

func (s *countingStore) List(ctx context.Context, store string, q remote.ListQuery) (remote.ListPage, error) {
	s.note("list", "")
	return s.Store.List(ctx, store, q)
}

func newTestClient(t *testing.T, st remote.RemoteStore, clk clockwork.Clock, mutate func(*Options)) *Client {
	t.Helper()
	opt := Options{Store: st, Clock: clk}
	if mutate != nil {
		mutate(&opt)
	}
	c := New(opt)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// A successful set followed by a get within TTL serves from cache with zero
// remote reads.
func TestClient_SetThenGetHitsCache(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	c := newTestClient(t, st, clk, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "players", "p1", []byte(`{"level":5}`)))

	v, found, err := c.Get(ctx, "players", "p1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"level":5}`), v)
	assert.Equal(t, 0, st.count("get"), "cache hit performs no remote read")
	assert.Equal(t, 1, st.count("set"))

	snap := c.GetMetrics("read", time.Hour)
	assert.Equal(t, 1, snap[metrics.MetricCacheHit].Summary.Count)
}

// Two transient failures followed by success: the caller sees success and
// the metrics stream records the retries.
func TestClient_TransientFailuresRecovered(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	var mu sync.Mutex
	fails := 2
	st.SetFailFunc(func(op, store, key string) error {
		if op != "get" {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if fails > 0 {
			fails--
			return remote.WrapError(remote.KindTransient, op, store, key, errors.New("remote busy"))
		}
		return nil
	})
	c := newTestClient(t, st, clk, func(o *Options) { o.MaxAttempts = 3 })
	ctx := context.Background()

	require.NoError(t, st.Store.Set(ctx, "players", "p2", []byte("v2")))

	type out struct {
		v     []byte
		found bool
		err   error
	}
	res := make(chan out, 1)
	go func() {
		v, found, err := c.Get(ctx, "players", "p2")
		res <- out{v, found, err}
	}()

	// Waiters: the cache janitor ticker plus the retry backoff timer.
	clk.BlockUntil(2)
	clk.Advance(100 * time.Millisecond)
	clk.BlockUntil(2)
	clk.Advance(200 * time.Millisecond)

	got := <-res
	require.NoError(t, got.err)
	assert.True(t, got.found)
	assert.Equal(t, []byte("v2"), got.v)
	assert.Equal(t, 3, st.count("get"))

	snap := c.GetMetrics("read", time.Hour)
	assert.Equal(t, 2, snap[metrics.MetricRetry].Summary.Count)
	assert.Equal(t, 1, snap[metrics.MetricSuccess].Summary.Count)
	assert.Equal(t, 3, snap[metrics.MetricLatency].Summary.Count)
}

// Delete invalidates the cache even when the remote delete fails: a stale
// cached read is worse than an extra miss.
func TestClient_DeleteInvalidatesFailSafe(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	c := newTestClient(t, st, clk, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "players", "p3", []byte("v3")))
	st.SetFailFunc(func(op, store, key string) error {
		if op == "delete" {
			return remote.WrapError(remote.KindUnknown, op, store, key, errors.New("backend hiccup"))
		}
		return nil
	})

	err := c.Delete(ctx, "players", "p3")
	require.Error(t, err, "remote delete failure surfaces")

	// The cached copy must be gone: the next read goes remote.
	_, found, err := c.Get(ctx, "players", "p3")
	require.NoError(t, err)
	assert.True(t, found, "remote still holds the value, the delete never landed")
	assert.Equal(t, 1, st.count("get"), "cache entry was invalidated")
}

// Concurrent misses for the same key coalesce into one remote fetch.
func TestClient_ConcurrentMissesCoalesce(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	gate := make(chan struct{})
	st.gate["hot"] = gate
	c := newTestClient(t, st, clk, nil)
	ctx := context.Background()
	require.NoError(t, st.Store.Set(ctx, "players", "hot", []byte("vh")))

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, found, err := c.Get(ctx, "players", "hot")
			assert.NoError(t, err)
			assert.True(t, found)
			results[i] = v
		}(i)
	}

	require.Equal(t, "get hot", <-st.entered, "leader reached the store")
	// Both callers have recorded their miss before the fetch resolves.
	require.Eventually(t, func() bool {
		return c.GetMetrics("read", time.Hour)[metrics.MetricCacheMiss].Summary.Count == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the follower join the in-flight call
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, st.count("get"), "one remote fetch for both callers")
	assert.Equal(t, []byte("vh"), results[0])
	assert.Equal(t, []byte("vh"), results[1])
}

func TestClient_ListIteratorPagesAndRestarts(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	c := newTestClient(t, st, clk, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.Store.Set(ctx, "players", fmt.Sprintf("p%d", i), []byte("x")))
	}
	require.NoError(t, st.Store.Set(ctx, "players", "other", []byte("x")))

	it := c.List(ctx, "players", "p", WithPageSize(2))
	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, keys)
	assert.Equal(t, 3, st.count("list"), "one budgeted operation per page")

	it.Reset()
	keys = keys[:0]
	for it.Next() {
		keys = append(keys, it.Key())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, keys, "iterator restarts from the first page")
	assert.Equal(t, 6, st.count("list"))
}

func TestClient_ValidationNeverDispatches(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	c := newTestClient(t, st, clk, nil)

	_, _, err := c.Get(context.Background(), "players", "")
	require.Error(t, err)
	assert.Equal(t, remote.KindValidation, remote.KindOf(err))
	assert.Equal(t, 0, st.count("get"))
}

// One hundred goroutines miss the same cold key at once; the fetch runs once
// and every caller gets the value.
func TestClient_LoadStorm(t *testing.T) {
	st := newCountingStore()
	st.Latency = 2 * time.Millisecond // keep the fetch in flight while callers pile up
	c := newTestClient(t, st, clockwork.NewRealClock(), nil)
	ctx := context.Background()
	require.NoError(t, st.Store.Set(ctx, "players", "cold", []byte("vc")))

	const goroutines = 100
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, found, err := c.Get(ctx, "players", "cold")
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("vc"), v)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, st.count("get"), "concurrent misses coalesce into one fetch")

	// Subsequent read is a pure cache hit.
	_, found, err := c.Get(ctx, "players", "cold")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, st.count("get"))
}

func TestClient_Stats(t *testing.T) {
	clk := clockwork.NewFakeClock()
	st := newCountingStore()
	c := newTestClient(t, st, clk, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "players", "p1", []byte("v")))
	_, _, err := c.Get(ctx, "players", "p1")
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Cache.Entries)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Len(t, stats.Budgets, 4)
	assert.Equal(t, 0, stats.QueueDepth)
	for _, b := range stats.Budgets {
		assert.GreaterOrEqual(t, b.Remaining, 0)
		assert.LessOrEqual(t, b.Remaining, b.Capacity)
	}
}
