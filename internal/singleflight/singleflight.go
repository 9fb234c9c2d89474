// Package singleflight coalesces concurrent read-through loads for the same
// store/key so that at most one remote fetch is in flight per key.
package singleflight

import (
	"context"
	"sync"
)

// Result is the shared outcome of one coalesced fetch.
type Result struct {
	Value []byte
	Found bool
}

// Group coalesces concurrent calls for the same key so that the supplied fn
// is executed at most once. Other concurrent callers wait for the shared
// result.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing the result happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Cancelling ctx in a follower unblocks only that follower; it does NOT
//     cancel the leader's fn. Thread ctx into fn for work cancellation.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	done chan struct{} // closed when res/err are published
	res  Result
	err  error
}

// Do runs fn once for the given key. Concurrent calls with the same key wait
// for the shared result; for them shared=true and fn never ran. If ctx is
// cancelled in a follower, that follower returns ctx.Err() while the leader
// continues.
func (g *Group) Do(ctx context.Context, key string, fn func() (Result, error)) (res Result, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call)
	}
	if c, ok := g.m[key]; ok {
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.res, true, c.err
		case <-ctx.Done():
			return Result{}, true, ctx.Err()
		}
	}

	// We are the leader for this key.
	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Execute fn outside the lock.
	c.res, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	return c.res, false, c.err
}
