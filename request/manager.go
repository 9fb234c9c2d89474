// Package request schedules operations against the remote store. The manager
// admits work through a priority queue, serializes operations per (store, key),
// spends the per-category budget on every dispatch attempt, retries transient
// failures with linear backoff, and adaptively throttles dispatch when the
// remote shows a sustained error rate.
package request

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/IvanBrykalov/gatedstore/budget"
	"github.com/IvanBrykalov/gatedstore/metrics"
	"github.com/IvanBrykalov/gatedstore/remote"
)

// Recorder receives operation events. *metrics.Aggregator and
// prom.OpAdapter both satisfy it.
type Recorder interface {
	Record(category, metric string, value float64)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(string, string, float64) {}

// ErrTooLate is returned by Cancel once the operation has started dispatch
// or already finished.
var ErrTooLate = errors.New("too late to cancel")

// ErrClosed is the cause attached to operations drained by Close.
var ErrClosed = errors.New("request manager closed")

// Options configures a Manager. Store and Budgets are required.
type Options struct {
	Store   remote.RemoteStore
	Budgets *budget.Set
	// MaxAttempts is the default dispatch ceiling per operation. Default 3.
	MaxAttempts int
	// BaseDelay scales the linear retry backoff (BaseDelay * attempt).
	// Default 100ms.
	BaseDelay time.Duration
	// BatchSize caps dispatches per category per cycle. Default 16.
	BatchSize int
	Throttle  ThrottleOptions
	// Recorder receives latency/outcome events. Nil => NopRecorder.
	Recorder Recorder
	// Logger for terminal failures and throttle transitions. Nil => discard.
	Logger *slog.Logger
	// Clock overrides the time source (tests). Nil => real clock.
	Clock clockwork.Clock
}

// Manager owns the scheduling state. One dispatcher goroutine pops the queue;
// each dispatched operation runs on its own goroutine until terminal.
type Manager struct {
	store   remote.RemoteStore
	budgets *budget.Set
	rec     Recorder
	log     *slog.Logger
	clock   clockwork.Clock

	maxAttempts int
	baseDelay   time.Duration
	batchSize   int

	mu       sync.Mutex
	queue    taskHeap
	pending  map[string]*task    // id -> task until terminal
	inflight map[string]struct{} // store/key with a dispatched operation
	thr      *throttle
	seq      uint64
	closed   bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Manager and starts its dispatcher.
func New(opt Options) *Manager {
	if opt.Store == nil {
		panic("request: Options.Store is required")
	}
	if opt.Budgets == nil {
		panic("request: Options.Budgets is required")
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 3
	}
	if opt.BaseDelay <= 0 {
		opt.BaseDelay = 100 * time.Millisecond
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 16
	}
	if opt.Recorder == nil {
		opt.Recorder = NopRecorder{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}

	m := &Manager{
		store:       opt.Store,
		budgets:     opt.Budgets,
		rec:         opt.Recorder,
		log:         opt.Logger,
		clock:       opt.Clock,
		maxAttempts: opt.MaxAttempts,
		baseDelay:   opt.BaseDelay,
		batchSize:   opt.BatchSize,
		pending:     make(map[string]*task),
		inflight:    make(map[string]struct{}),
		thr:         newThrottle(opt.Throttle),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go m.run()
	return m
}

// Budgets exposes the budget set for observability endpoints.
func (m *Manager) Budgets() *budget.Set { return m.budgets }

// QueueDepth returns how many operations are waiting for dispatch.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Submit schedules op and blocks until it reaches a terminal state or ctx
// expires. Validation failures return immediately without touching the
// budget or the queue. A ctx expiry while the operation is still queued
// resolves it without consuming budget; once in flight the remote call
// cannot be aborted and only the result is discarded.
func (m *Manager) Submit(ctx context.Context, op Operation) (Result, error) {
	if err := op.validate(); err != nil {
		m.rec.Record(string(op.Verb.category()), metrics.MetricFailure, 1)
		return Result{}, err
	}

	m.mu.Lock()
	t, err := m.enqueueLocked(ctx, op)
	m.mu.Unlock()
	if err != nil {
		return Result{}, err
	}
	m.signal()
	return m.wait(ctx, t)
}

// BatchItem is the outcome of one operation of a batch.
type BatchItem struct {
	ID     string
	Result Result
	Err    error
}

// SubmitBatch enqueues ops under one lock so they land in the same dispatch
// cycle, then waits for all of them. Each operation is still dispatched,
// budgeted, and retried individually.
func (m *Manager) SubmitBatch(ctx context.Context, ops []Operation) []BatchItem {
	items := make([]BatchItem, len(ops))
	tasks := make([]*task, len(ops))

	m.mu.Lock()
	for i, op := range ops {
		if err := op.validate(); err != nil {
			items[i].Err = err
			continue
		}
		t, err := m.enqueueLocked(ctx, op)
		if err != nil {
			items[i].Err = err
			continue
		}
		tasks[i] = t
		items[i].ID = t.op.ID
	}
	m.mu.Unlock()
	m.signal()

	for i, t := range tasks {
		if t == nil {
			if items[i].Err != nil && remote.KindOf(items[i].Err) == remote.KindValidation {
				m.rec.Record(string(ops[i].Verb.category()), metrics.MetricFailure, 1)
			}
			continue
		}
		items[i].Result, items[i].Err = m.wait(ctx, t)
	}
	return items
}

// Cancel aborts a queued operation. It returns ErrTooLate once the operation
// has entered dispatch or finished, and for unknown ids.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.pending[id]
	if !ok || t.state != StateQueued {
		m.mu.Unlock()
		return ErrTooLate
	}
	m.removeQueuedLocked(t)
	t.state = StateCanceled
	t.err = remote.WrapError(remote.KindCanceled, string(t.op.Verb), t.op.Store, t.op.Key, nil)
	close(t.done)
	m.mu.Unlock()
	return nil
}

// Close drains the queue (pending operations fail with ErrClosed), stops the
// dispatcher, and waits for in-flight operations to return.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for m.queue.Len() > 0 {
		t := heap.Pop(&m.queue).(*task)
		delete(m.pending, t.op.ID)
		t.state = StateCanceled
		t.err = remote.WrapError(remote.KindCanceled, string(t.op.Verb), t.op.Store, t.op.Key, ErrClosed)
		close(t.done)
	}
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	<-m.done
	return nil
}

func (m *Manager) enqueueLocked(ctx context.Context, op Operation) (*task, error) {
	if m.closed {
		return nil, remote.WrapError(remote.KindCanceled, string(op.Verb), op.Store, op.Key, ErrClosed)
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	t := &task{
		op:          op,
		category:    op.Verb.category(),
		ctx:         ctx,
		createdAt:   m.clock.Now(),
		seq:         m.seq,
		done:        make(chan struct{}),
		maxAttempts: m.maxAttempts,
	}
	if op.MaxAttempts > 0 {
		t.maxAttempts = op.MaxAttempts
	}
	m.seq++
	heap.Push(&m.queue, t)
	m.pending[op.ID] = t
	return t, nil
}

func (m *Manager) wait(ctx context.Context, t *task) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
	}

	m.mu.Lock()
	if t.state == StateQueued {
		m.removeQueuedLocked(t)
		kind := ctxKind(ctx.Err())
		if kind == remote.KindDeadlineExceeded && t.budgetWait {
			kind = remote.KindQuotaExceeded
		}
		t.state = StateFailed
		t.err = remote.WrapError(kind, string(t.op.Verb), t.op.Store, t.op.Key, ctx.Err())
		close(t.done)
		m.mu.Unlock()
		m.rec.Record(string(t.category), metrics.MetricFailure, 1)
		return Result{}, t.err
	}
	m.mu.Unlock()

	// In flight: the remote call cannot be aborted. Report the expiry to the
	// caller; the worker finishes in the background and still records its
	// outcome and budget spend.
	return Result{}, remote.WrapError(ctxKind(ctx.Err()), string(t.op.Verb), t.op.Store, t.op.Key, ctx.Err())
}

// removeQueuedLocked detaches a queued task from the heap and the pending map.
func (m *Manager) removeQueuedLocked(t *task) {
	if t.index >= 0 {
		heap.Remove(&m.queue, t.index)
	}
	delete(m.pending, t.op.ID)
}

func ctxKind(err error) remote.Kind {
	if errors.Is(err, context.Canceled) {
		return remote.KindCanceled
	}
	return remote.KindDeadlineExceeded
}

// signal nudges the dispatcher without blocking.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		waitCh := m.dispatch()
		select {
		case <-m.stop:
			return
		case <-m.wake:
		case <-waitCh:
		}
	}
}

// dispatch runs one cycle: pop tasks in priority order and start every one
// whose category allowance, per-key serialization, and budget all permit.
// Deferred tasks go back on the heap. When at least one task waits on an
// empty budget, the returned channel fires at the earliest refill; otherwise
// it is nil and the dispatcher sleeps until woken.
func (m *Manager) dispatch() <-chan time.Time {
	m.mu.Lock()

	used := make(map[budget.Category]int)
	throttledCats := make(map[budget.Category]bool)
	var skipped, expired []*task
	var nextRefill time.Time

	for m.queue.Len() > 0 {
		t := heap.Pop(&m.queue).(*task)
		if t.ctx.Err() != nil {
			delete(m.pending, t.op.ID)
			kind := ctxKind(t.ctx.Err())
			if kind == remote.KindDeadlineExceeded && t.budgetWait {
				kind = remote.KindQuotaExceeded
			}
			t.state = StateFailed
			t.err = remote.WrapError(kind, string(t.op.Verb), t.op.Store, t.op.Key, t.ctx.Err())
			close(t.done)
			expired = append(expired, t)
			continue
		}
		cat := t.category
		if used[cat] >= m.thr.allowance(cat, m.batchSize) {
			if m.thr.throttled(cat) {
				throttledCats[cat] = true
			}
			skipped = append(skipped, t)
			continue
		}
		if _, busy := m.inflight[t.serialKey()]; busy {
			skipped = append(skipped, t)
			continue
		}
		if !m.budgets.For(cat).TryAcquire() {
			t.budgetWait = true
			nr := m.budgets.For(cat).NextRefill()
			if nextRefill.IsZero() || nr.Before(nextRefill) {
				nextRefill = nr
			}
			skipped = append(skipped, t)
			continue
		}
		used[cat]++
		t.state = StateInFlight
		m.inflight[t.serialKey()] = struct{}{}
		m.wg.Add(1)
		go m.execute(t)
	}
	for _, t := range skipped {
		heap.Push(&m.queue, t)
	}
	m.mu.Unlock()

	for _, t := range expired {
		m.rec.Record(string(t.category), metrics.MetricFailure, 1)
	}
	for cat := range throttledCats {
		m.rec.Record(string(cat), metrics.MetricThrottled, 1)
	}

	if nextRefill.IsZero() {
		return nil
	}
	d := nextRefill.Sub(m.clock.Now())
	if d < 0 {
		d = 0
	}
	return m.clock.After(d)
}

// execute drives one operation through its attempts. The first attempt's
// budget was acquired by the dispatcher; each retry acquires its own.
func (m *Manager) execute(t *task) {
	defer m.wg.Done()
	cat := string(t.category)

	for attempt := 1; ; attempt++ {
		start := m.clock.Now()
		res, err := m.call(t)
		latMs := float64(m.clock.Since(start)) / float64(time.Millisecond)
		m.rec.Record(cat, metrics.MetricLatency, latMs)

		m.mu.Lock()
		m.thr.observe(t.category, err != nil, latMs)
		m.mu.Unlock()

		if err == nil {
			res.Attempts = attempt
			m.finish(t, res, nil)
			m.rec.Record(cat, metrics.MetricSuccess, 1)
			return
		}
		if !remote.IsTransient(err) || attempt >= t.maxAttempts {
			m.log.Warn("operation failed",
				"op", t.op.Verb, "store", t.op.Store, "key", t.op.Key,
				"attempts", attempt, "err", err)
			m.finish(t, Result{Attempts: attempt}, terminalError(t, err, attempt))
			m.rec.Record(cat, metrics.MetricFailure, 1)
			return
		}
		m.rec.Record(cat, metrics.MetricRetry, 1)

		if werr := m.backoff(t, attempt); werr != nil {
			m.finish(t, Result{Attempts: attempt}, werr)
			m.rec.Record(cat, metrics.MetricFailure, 1)
			return
		}
		if werr := m.awaitBudget(t); werr != nil {
			m.finish(t, Result{Attempts: attempt}, werr)
			m.rec.Record(cat, metrics.MetricFailure, 1)
			return
		}
	}
}

func (m *Manager) call(t *task) (Result, error) {
	switch t.op.Verb {
	case VerbGet:
		v, found, err := m.store.Get(t.ctx, t.op.Store, t.op.Key)
		return Result{Value: v, Found: found}, err
	case VerbSet:
		return Result{}, m.store.Set(t.ctx, t.op.Store, t.op.Key, t.op.Value)
	case VerbDelete:
		return Result{}, m.store.Delete(t.ctx, t.op.Store, t.op.Key)
	default:
		page, err := m.store.List(t.ctx, t.op.Store, t.op.Query)
		return Result{Page: page}, err
	}
}

// backoff waits baseDelay * attempt, bailing out on ctx expiry or shutdown.
func (m *Manager) backoff(t *task, attempt int) error {
	select {
	case <-m.clock.After(m.baseDelay * time.Duration(attempt)):
		return nil
	case <-t.ctx.Done():
		e := remote.WrapError(ctxKind(t.ctx.Err()), string(t.op.Verb), t.op.Store, t.op.Key, t.ctx.Err())
		e.Attempt = attempt
		return e
	case <-m.stop:
		return remote.WrapError(remote.KindCanceled, string(t.op.Verb), t.op.Store, t.op.Key, ErrClosed)
	}
}

// awaitBudget acquires one unit for the next dispatch attempt, sleeping
// until the refill when the budget is empty.
func (m *Manager) awaitBudget(t *task) error {
	b := m.budgets.For(t.category)
	for {
		if b.TryAcquire() {
			return nil
		}
		d := b.NextRefill().Sub(m.clock.Now())
		if d < 0 {
			d = 0
		}
		select {
		case <-m.clock.After(d):
		case <-t.ctx.Done():
			return remote.WrapError(remote.KindQuotaExceeded, string(t.op.Verb), t.op.Store, t.op.Key, t.ctx.Err())
		case <-m.stop:
			return remote.WrapError(remote.KindCanceled, string(t.op.Verb), t.op.Store, t.op.Key, ErrClosed)
		}
	}
}

// finish performs the terminal transition and frees the serialization slot,
// waking the dispatcher so same-key followers can start.
func (m *Manager) finish(t *task, res Result, err error) {
	m.mu.Lock()
	delete(m.inflight, t.serialKey())
	delete(m.pending, t.op.ID)
	t.attempts = res.Attempts
	if err == nil {
		t.state = StateSucceeded
	} else {
		t.state = StateFailed
	}
	t.res, t.err = res, err
	close(t.done)
	m.mu.Unlock()
	m.signal()
}

// terminalError attaches the attempt count to the cause, preserving its kind
// when it already is a classified remote error.
func terminalError(t *task, cause error, attempt int) error {
	var re *remote.Error
	if errors.As(cause, &re) {
		e := *re
		e.Attempt = attempt
		return &e
	}
	e := remote.WrapError(remote.KindUnknown, string(t.op.Verb), t.op.Store, t.op.Key, cause)
	e.Attempt = attempt
	return e
}
