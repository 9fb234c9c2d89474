package budget

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// Budget starts full, drains to zero, and never goes negative.
func TestBudget_DrainAndFloor(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	b := New(Read, 3, time.Minute, clk)

	for i := 0; i < 3; i++ {
		if !b.TryAcquire() {
			t.Fatalf("acquire %d must succeed", i)
		}
	}
	if b.TryAcquire() {
		t.Fatal("acquire on empty budget must fail")
	}
	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

// A full interval restores the budget to capacity, but elapsed intervals
// never accumulate beyond capacity.
func TestBudget_RefillResetsToCapacity(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	b := New(Write, 2, time.Minute, clk)

	b.TryAcquire()
	b.TryAcquire()
	if b.TryAcquire() {
		t.Fatal("budget must be empty")
	}

	clk.Advance(time.Minute)
	if got := b.Remaining(); got != 2 {
		t.Fatalf("remaining after refill = %d, want 2", got)
	}

	// Several idle intervals still cap at capacity.
	clk.Advance(10 * time.Minute)
	if got := b.Remaining(); got != 2 {
		t.Fatalf("remaining after idle = %d, want 2", got)
	}
}

// Refill boundaries stay aligned to the original schedule even when the
// budget is touched mid-interval.
func TestBudget_NextRefillAligned(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	start := clk.Now()
	b := New(List, 1, time.Minute, clk)

	clk.Advance(90 * time.Second) // 1.5 intervals
	b.TryAcquire()

	want := start.Add(2 * time.Minute)
	if got := b.NextRefill(); !got.Equal(want) {
		t.Fatalf("next refill = %v, want %v", got, want)
	}
}

func TestSet_PerCategoryIsolation(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewSet(1, time.Minute, clk)

	if !s.For(Read).TryAcquire() {
		t.Fatal("read acquire must succeed")
	}
	// Draining read must not touch write.
	if got := s.For(Write).Remaining(); got != 1 {
		t.Fatalf("write remaining = %d, want 1", got)
	}

	snaps := s.Snapshots()
	if len(snaps) != 4 {
		t.Fatalf("snapshots = %d, want 4", len(snaps))
	}
	if snaps[0].Category != Read || snaps[0].Remaining != 0 {
		t.Fatalf("unexpected read snapshot: %+v", snaps[0])
	}
}
