// Package budget tracks the per-category quota of permitted remote calls
// within a refill window. Budgets are the backpressure primitive: when a
// category's budget is empty, operations queue until the next refill, they
// are never rejected.
package budget

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Category names an operation class with its own quota.
type Category string

const (
	Read   Category = "read"
	Write  Category = "write"
	Delete Category = "delete"
	List   Category = "list"
)

// Categories lists every known category in a stable order.
func Categories() []Category { return []Category{Read, Write, Delete, List} }

// Budget is a refilling counter for one category.
// remaining stays within [0, capacity]; an acquire that would drive it
// negative fails instead, signaling the caller to queue.
type Budget struct {
	mu         sync.Mutex
	category   Category
	remaining  int
	capacity   int
	refillEach time.Duration
	lastRefill time.Time
	clock      clockwork.Clock
}

// New creates a full budget for category. capacity must be > 0 and
// refillEach > 0; clock may be nil for the real clock.
func New(category Category, capacity int, refillEach time.Duration, clock clockwork.Clock) *Budget {
	if capacity <= 0 {
		panic("budget: capacity must be > 0")
	}
	if refillEach <= 0 {
		panic("budget: refill interval must be > 0")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Budget{
		category:   category,
		remaining:  capacity,
		capacity:   capacity,
		refillEach: refillEach,
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// TryAcquire consumes one unit if available, refilling first when the
// interval has elapsed. Returns false when the budget is empty.
func (b *Budget) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.remaining == 0 {
		return false
	}
	b.remaining--
	return true
}

// Remaining returns the current count after applying any due refill.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.remaining
}

// NextRefill returns when the budget will next reset to capacity.
func (b *Budget) NextRefill() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.lastRefill.Add(b.refillEach)
}

// refillLocked resets remaining to capacity once per elapsed interval.
// Multiple elapsed intervals collapse into a single reset: the quota does
// not accumulate beyond capacity.
func (b *Budget) refillLocked() {
	now := b.clock.Now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.refillEach {
		b.remaining = b.capacity
		// Align to interval boundaries so refill timing is stable under
		// irregular access patterns.
		steps := elapsed / b.refillEach
		b.lastRefill = b.lastRefill.Add(steps * b.refillEach)
	}
}

// Snapshot is a read-only view of one budget for observability.
type Snapshot struct {
	Category   Category      `json:"category"`
	Remaining  int           `json:"remaining"`
	Capacity   int           `json:"capacity"`
	RefillEach time.Duration `json:"refill_each"`
	NextRefill time.Time     `json:"next_refill"`
}

// Snapshot returns the current state.
func (b *Budget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return Snapshot{
		Category:   b.category,
		Remaining:  b.remaining,
		Capacity:   b.capacity,
		RefillEach: b.refillEach,
		NextRefill: b.lastRefill.Add(b.refillEach),
	}
}

// Set holds one budget per category.
type Set struct {
	byCat map[Category]*Budget
}

// NewSet builds a Set with the same capacity and refill interval for every
// category.
func NewSet(capacity int, refillEach time.Duration, clock clockwork.Clock) *Set {
	byCat := make(map[Category]*Budget, len(Categories()))
	for _, c := range Categories() {
		byCat[c] = New(c, capacity, refillEach, clock)
	}
	return &Set{byCat: byCat}
}

// For returns the budget for category. Unknown categories share the read
// budget rather than panicking; the request manager validates categories
// before reaching here.
func (s *Set) For(category Category) *Budget {
	if b, ok := s.byCat[category]; ok {
		return b
	}
	return s.byCat[Read]
}

// Snapshots returns a stable-order view of every budget.
func (s *Set) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(s.byCat))
	for _, c := range Categories() {
		out = append(out, s.byCat[c].Snapshot())
	}
	return out
}
