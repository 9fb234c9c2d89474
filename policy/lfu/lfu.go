// Package lfu implements the least-frequently-used eviction policy with
// O(1) operations via frequency buckets.
package lfu

import (
	"container/list"

	"github.com/IvanBrykalov/gatedstore/policy"
)

// lfu tracks each resident node in a frequency bucket. Buckets form an
// ordered list (lowest frequency at Front); within a bucket, nodes are
// ordered by recency (LRU at Back), which breaks frequency ties the same
// way plain LRU would.
//
// Concurrency: all methods are called under the shard lock.
type lfu struct {
	h policy.Hooks

	// buckets: *bucket ordered by ascending freq.
	buckets *list.List
	// nodes: node -> its position (bucket element + element inside the bucket).
	nodes map[policy.Node]*slot
}

type bucket struct {
	freq    uint32
	entries *list.List // element.Value is policy.Node; MRU at Front
}

type slot struct {
	bucketEl *list.Element // element in lfu.buckets, Value is *bucket
	entryEl  *list.Element // element in bucket.entries
}

type lfuPolicy struct{}

// New returns a Policy factory that constructs per-shard LFU instances.
func New() policy.Policy { return lfuPolicy{} }

func (lfuPolicy) New(h policy.Hooks) policy.ShardPolicy {
	return &lfu{
		h:       h,
		buckets: list.New(),
		nodes:   make(map[policy.Node]*slot),
	}
}

func (lfuPolicy) Name() string { return "lfu" }

// OnAdd admits the node into the bucket matching its current hit count.
// A fresh entry lands in the lowest bucket; a node re-admitted during a
// policy switch keeps the frequency it earned under the previous policy.
func (q *lfu) OnAdd(n policy.Node) (evict policy.Node) {
	q.h.PushFront(n)
	freq := n.Hits()
	if freq == 0 {
		freq = 1
	}
	q.insert(n, freq)
	return nil
}

// OnGet moves the node one frequency bucket up and refreshes its recency.
func (q *lfu) OnGet(n policy.Node) {
	q.h.MoveToFront(n)
	s, ok := q.nodes[n]
	if !ok {
		// Not tracked yet; admit at its current count.
		q.insert(n, maxU32(n.Hits(), 1))
		return
	}
	b := s.bucketEl.Value.(*bucket)
	q.detach(n, s)
	q.insert(n, b.freq+1)
}

// OnUpdate counts as a use.
func (q *lfu) OnUpdate(n policy.Node) { q.OnGet(n) }

// OnRemove drops policy bookkeeping for the node.
func (q *lfu) OnRemove(n policy.Node) {
	if s, ok := q.nodes[n]; ok {
		q.detach(n, s)
	}
}

// Victim is the least recent node of the lowest-frequency bucket.
func (q *lfu) Victim() policy.Node {
	front := q.buckets.Front()
	if front == nil {
		return q.h.Back()
	}
	b := front.Value.(*bucket)
	tail := b.entries.Back()
	if tail == nil {
		return q.h.Back()
	}
	return tail.Value.(policy.Node)
}

// insert places n into the bucket for freq, creating it in order if absent.
func (q *lfu) insert(n policy.Node, freq uint32) {
	// Find the first bucket with freq >= target.
	var at *list.Element
	for el := q.buckets.Front(); el != nil; el = el.Next() {
		b := el.Value.(*bucket)
		if b.freq >= freq {
			at = el
			break
		}
	}

	var bEl *list.Element
	switch {
	case at == nil:
		bEl = q.buckets.PushBack(&bucket{freq: freq, entries: list.New()})
	case at.Value.(*bucket).freq == freq:
		bEl = at
	default:
		bEl = q.buckets.InsertBefore(&bucket{freq: freq, entries: list.New()}, at)
	}

	b := bEl.Value.(*bucket)
	q.nodes[n] = &slot{bucketEl: bEl, entryEl: b.entries.PushFront(n)}
}

// detach removes n from its bucket, dropping the bucket once empty.
func (q *lfu) detach(n policy.Node, s *slot) {
	b := s.bucketEl.Value.(*bucket)
	b.entries.Remove(s.entryEl)
	if b.entries.Len() == 0 {
		q.buckets.Remove(s.bucketEl)
	}
	delete(q.nodes, n)
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
