package request

import (
	"context"
	"fmt"
	"time"

	"github.com/IvanBrykalov/gatedstore/budget"
	"github.com/IvanBrykalov/gatedstore/remote"
)

// Verb names the remote call an operation performs.
type Verb string

const (
	VerbGet    Verb = "get"
	VerbSet    Verb = "set"
	VerbDelete Verb = "delete"
	VerbList   Verb = "list"
)

// category maps a verb onto its budget category.
func (v Verb) category() budget.Category {
	switch v {
	case VerbSet:
		return budget.Write
	case VerbDelete:
		return budget.Delete
	case VerbList:
		return budget.List
	default:
		return budget.Read
	}
}

const (
	// MaxPriority bounds Operation.Priority; 0 is lowest.
	MaxPriority = 9
	// MaxKeyLen bounds store and key names.
	MaxKeyLen = 512
	// MaxValueLen bounds set payloads.
	MaxValueLen = 1 << 20
)

// Operation describes one remote call to schedule. Value is used by set,
// Query by list; both are ignored otherwise.
type Operation struct {
	// ID identifies the operation for Cancel. Empty means the manager
	// assigns one.
	ID       string
	Verb     Verb
	Store    string
	Key      string
	Value    []byte
	Query    remote.ListQuery
	Priority int
	// MaxAttempts overrides the manager default when > 0.
	MaxAttempts int
}

// Result is the successful outcome of an operation.
type Result struct {
	// Value and Found are set for get.
	Value []byte
	Found bool
	// Page is set for list.
	Page remote.ListPage
	// Attempts is how many dispatches the operation took.
	Attempts int
}

// State is the lifecycle of a scheduled operation.
type State int

const (
	StateQueued State = iota
	StateInFlight
	StateSucceeded
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// validate rejects malformed operations before any budget is consumed.
func (op *Operation) validate() error {
	fail := func(cause error) error {
		return remote.WrapError(remote.KindValidation, string(op.Verb), op.Store, op.Key, cause)
	}
	switch op.Verb {
	case VerbGet, VerbSet, VerbDelete, VerbList:
	default:
		return fail(fmt.Errorf("unknown verb %q", op.Verb))
	}
	if op.Store == "" || len(op.Store) > MaxKeyLen {
		return fail(fmt.Errorf("store name length must be in [1, %d]", MaxKeyLen))
	}
	if op.Verb != VerbList && (op.Key == "" || len(op.Key) > MaxKeyLen) {
		return fail(fmt.Errorf("key length must be in [1, %d]", MaxKeyLen))
	}
	if op.Verb == VerbSet && len(op.Value) > MaxValueLen {
		return fail(fmt.Errorf("value exceeds %d bytes", MaxValueLen))
	}
	if op.Priority < 0 || op.Priority > MaxPriority {
		return fail(fmt.Errorf("priority %d outside [0, %d]", op.Priority, MaxPriority))
	}
	if op.MaxAttempts < 0 {
		return fail(fmt.Errorf("max attempts must be >= 0"))
	}
	return nil
}

// task is the scheduler-side wrapper around one operation. The manager's
// mutex guards every mutable field; done is closed exactly once, at the
// terminal transition.
type task struct {
	op        Operation
	category  budget.Category
	ctx       context.Context
	createdAt time.Time
	seq       uint64
	index     int // heap index, -1 once popped

	state       State
	attempts    int
	budgetWait  bool // deferred at least once because the budget was empty
	res         Result
	err         error
	done        chan struct{}
	maxAttempts int
}

// serialKey identifies the per-key serialization domain.
func (t *task) serialKey() string { return t.op.Store + "/" + t.op.Key }
