package metrics

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const eventBuffer = 1024

// Options configures the aggregator. Zero values take sane defaults.
type Options struct {
	// WindowSize is the duration of one metric window. Default 5m.
	WindowSize time.Duration
	// Retention is how long sealed windows are kept. Default 24h.
	Retention time.Duration
	// AlertCooldown is the minimum interval between repeated alerts for the
	// same (category, metric). Default 5m.
	AlertCooldown time.Duration
	// Thresholds are the static alerting rules.
	Thresholds []Threshold
	// Logger for fired alerts. Nil => discard.
	Logger *slog.Logger
	// Clock overrides the time source (tests). Nil => real clock.
	Clock clockwork.Clock
}

// Aggregator consumes events from a buffered channel and maintains the
// window sequence, alert state, and derived reports. Producers only ever
// touch the channel; the consumer goroutine owns all mutation, and the
// read-side methods take the mutex for consistent views.
type Aggregator struct {
	clock    clockwork.Clock
	log      *slog.Logger
	winSize  time.Duration
	retain   time.Duration
	cooldown time.Duration

	thresholds map[string]Threshold // sampleKey -> rule

	events chan envelope
	stop   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	sealed []*window // oldest first; empty windows are not materialized
	cur    *window
	alerts map[string]*Alert // sampleKey -> active alert
}

// envelope is either one event or a sync marker travelling the same channel,
// so Sync observes every event recorded before it.
type envelope struct {
	ev   Event
	sync chan struct{} // non-nil marks a sync request
}

// New constructs an Aggregator and starts its consumer goroutine.
func New(opt Options) *Aggregator {
	if opt.WindowSize <= 0 {
		opt.WindowSize = 5 * time.Minute
	}
	if opt.Retention <= 0 {
		opt.Retention = 24 * time.Hour
	}
	if opt.AlertCooldown <= 0 {
		opt.AlertCooldown = 5 * time.Minute
	}
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	a := &Aggregator{
		clock:      opt.Clock,
		log:        opt.Logger,
		winSize:    opt.WindowSize,
		retain:     opt.Retention,
		cooldown:   opt.AlertCooldown,
		thresholds: make(map[string]Threshold, len(opt.Thresholds)),
		events:     make(chan envelope, eventBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		alerts:     make(map[string]*Alert),
	}
	for _, th := range opt.Thresholds {
		a.thresholds[sampleKey(th.Category, th.Metric)] = th
	}
	a.cur = newWindow(opt.Clock.Now().Truncate(a.winSize), a.winSize)

	go a.consume()
	return a
}

// Record enqueues one sample, timestamped now. It blocks only when the
// buffer is full, which backpressures producers instead of dropping data.
func (a *Aggregator) Record(category, metric string, value float64) {
	select {
	case a.events <- envelope{ev: Event{Category: category, Metric: metric, Value: value, At: a.clock.Now()}}:
	case <-a.stop:
	}
}

// Sync blocks until every event recorded before the call has been applied.
// Reports call it so reads always observe a consistent state; tests rely on
// it for determinism.
func (a *Aggregator) Sync() {
	marker := make(chan struct{})
	select {
	case a.events <- envelope{sync: marker}:
		<-marker
	case <-a.stop:
	}
}

// Close stops the consumer. Pending buffered events are applied first.
func (a *Aggregator) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *Aggregator) consume() {
	defer close(a.done)
	for {
		select {
		case env := <-a.events:
			a.apply(env)
		case <-a.stop:
			// Drain what producers managed to enqueue.
			for {
				select {
				case env := <-a.events:
					a.apply(env)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) apply(env envelope) {
	if env.sync != nil {
		close(env.sync)
		return
	}
	ev := env.ev

	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollLocked(ev.At)
	a.cur.add(ev.Category, ev.Metric, ev.Value)
	if th, ok := a.thresholds[sampleKey(ev.Category, ev.Metric)]; ok {
		a.evaluateAlert(th, ev)
	}
}

// rollLocked seals the open window once its end time has passed and opens
// the next one. Fully idle spans are skipped rather than materialized as
// empty windows; boundaries remain aligned to WindowSize, so the sealed
// sequence stays chronological and non-overlapping.
func (a *Aggregator) rollLocked(now time.Time) {
	if now.Before(a.cur.end) {
		return
	}
	a.cur.seal()
	if len(a.cur.samples) > 0 {
		a.sealed = append(a.sealed, a.cur)
	}
	a.cur = newWindow(now.Truncate(a.winSize), a.winSize)
	a.pruneLocked(now)
}

// pruneLocked drops sealed windows older than the retention horizon.
func (a *Aggregator) pruneLocked(now time.Time) {
	horizon := now.Add(-a.retain)
	i := 0
	for i < len(a.sealed) && a.sealed[i].end.Before(horizon) {
		i++
	}
	if i > 0 {
		a.sealed = append([]*window(nil), a.sealed[i:]...)
	}
}

// GetMetrics returns the per-metric series for one category over the last
// timeRange. Sealed windows and the open window both contribute.
func (a *Aggregator) GetMetrics(category string, timeRange time.Duration) Snapshot {
	a.Sync()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.rollLocked(now)
	from := now.Add(-timeRange)
	prefix := category + "/"

	merged := make(map[string][]float64)
	collect := func(w *window) {
		if w.end.Before(from) {
			return
		}
		for k, vals := range w.samples {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				merged[k[len(prefix):]] = append(merged[k[len(prefix):]], vals...)
			}
		}
	}
	for _, w := range a.sealed {
		collect(w)
	}
	collect(a.cur)

	snap := make(Snapshot, len(merged))
	for metric, vals := range merged {
		snap[metric] = Series{Values: vals, Summary: summarize(vals)}
	}
	return snap
}

// ActiveAlerts returns the alerts still inside their suppression window.
// An alert that has not re-fired for a full cooldown is considered resolved
// and dropped.
func (a *Aggregator) ActiveAlerts() []Alert {
	a.Sync()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	out := make([]Alert, 0, len(a.alerts))
	for k, al := range a.alerts {
		if now.Sub(al.LastFiredAt) >= a.cooldown {
			delete(a.alerts, k)
			continue
		}
		out = append(out, *al)
	}
	return out
}
