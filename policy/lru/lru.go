// Package lru implements the least-recently-used eviction policy.
package lru

import "github.com/IvanBrykalov/gatedstore/policy"

// lru is a classic "move-to-front" policy. It delegates all list
// manipulation to the hooks provided by the shard and keeps no state of
// its own, so switching away from it is free.
type lru struct {
	h policy.Hooks
}

type lruPolicy struct{}

// New returns a Policy factory that constructs per-shard LRU instances.
func New() policy.Policy { return lruPolicy{} }

func (lruPolicy) New(h policy.Hooks) policy.ShardPolicy { return &lru{h: h} }

func (lruPolicy) Name() string { return "lru" }

// OnAdd places the new entry at MRU. LRU itself doesn't choose evictions on
// admission; the shard enforces capacity limits through Victim.
func (p *lru) OnAdd(n policy.Node) (evict policy.Node) {
	p.h.PushFront(n)
	return nil
}

// OnGet promotes the entry to MRU.
func (p *lru) OnGet(n policy.Node) { p.h.MoveToFront(n) }

// OnUpdate promotes the entry to MRU (updates count as recent use).
func (p *lru) OnUpdate(n policy.Node) { p.h.MoveToFront(n) }

// OnRemove is a no-op for pure LRU.
func (p *lru) OnRemove(_ policy.Node) {}

// Victim is the list tail: the least recently used entry.
func (p *lru) Victim() policy.Node { return p.h.Back() }
