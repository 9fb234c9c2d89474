package request

import "github.com/IvanBrykalov/gatedstore/budget"

// ThrottleOptions tunes the adaptive admission controller. The controller
// tracks an exponentially weighted error rate and latency per category and
// shrinks the per-cycle dispatch allowance when the remote store shows signs
// of distress, independent of remaining budget.
type ThrottleOptions struct {
	// Disabled turns the controller off; the allowance stays at BatchSize.
	Disabled bool
	// HighWaterErrorRate is the EWMA error rate above which the allowance
	// halves. Default 0.5.
	HighWaterErrorRate float64
	// Alpha is the EWMA smoothing factor in (0, 1]. Default 0.2.
	Alpha float64
	// RecoveryChecks is how many consecutive healthy observations are needed
	// before the allowance doubles back toward full. Default 3.
	RecoveryChecks int
}

func (o ThrottleOptions) withDefaults() ThrottleOptions {
	if o.HighWaterErrorRate <= 0 {
		o.HighWaterErrorRate = 0.5
	}
	if o.Alpha <= 0 || o.Alpha > 1 {
		o.Alpha = 0.2
	}
	if o.RecoveryChecks <= 0 {
		o.RecoveryChecks = 3
	}
	return o
}

// minThrottleFactor floors the allowance multiplier so a distressed category
// still makes progress one dispatch at a time.
const minThrottleFactor = 1.0 / 16

// throttleState is the controller state for one category. Guarded by the
// manager's mutex.
type throttleState struct {
	errRate   float64
	latencyMs float64
	samples   int
	healthy   int
	factor    float64 // allowance multiplier in (0, 1]
}

type throttle struct {
	opt   ThrottleOptions
	byCat map[budget.Category]*throttleState
}

func newThrottle(opt ThrottleOptions) *throttle {
	return &throttle{opt: opt.withDefaults(), byCat: make(map[budget.Category]*throttleState)}
}

func (t *throttle) state(cat budget.Category) *throttleState {
	s, ok := t.byCat[cat]
	if !ok {
		s = &throttleState{factor: 1}
		t.byCat[cat] = s
	}
	return s
}

// observe folds one completed dispatch into the category's EWMA state and
// adjusts the allowance factor. Recovery requires RecoveryChecks consecutive
// healthy observations, so the factor cannot flap on a single good sample.
func (t *throttle) observe(cat budget.Category, failed bool, latencyMs float64) {
	if t.opt.Disabled {
		return
	}
	s := t.state(cat)
	e := 0.0
	if failed {
		e = 1.0
	}
	if s.samples == 0 {
		s.errRate = e
		s.latencyMs = latencyMs
	} else {
		s.errRate = t.opt.Alpha*e + (1-t.opt.Alpha)*s.errRate
		s.latencyMs = t.opt.Alpha*latencyMs + (1-t.opt.Alpha)*s.latencyMs
	}
	s.samples++

	switch {
	case s.errRate > t.opt.HighWaterErrorRate:
		s.healthy = 0
		if s.factor > minThrottleFactor {
			s.factor /= 2
			if s.factor < minThrottleFactor {
				s.factor = minThrottleFactor
			}
		}
	case s.errRate < t.opt.HighWaterErrorRate/2:
		s.healthy++
		if s.healthy >= t.opt.RecoveryChecks && s.factor < 1 {
			s.factor *= 2
			if s.factor > 1 {
				s.factor = 1
			}
			s.healthy = 0
		}
	default:
		// Between the recovery band and the high-water mark: hold steady.
		s.healthy = 0
	}
}

// allowance returns how many dispatches the category may make this cycle.
// Always at least 1.
func (t *throttle) allowance(cat budget.Category, batchSize int) int {
	if t.opt.Disabled {
		return batchSize
	}
	n := int(t.state(cat).factor * float64(batchSize))
	if n < 1 {
		n = 1
	}
	return n
}

// throttled reports whether the category is currently clamped below full
// allowance.
func (t *throttle) throttled(cat budget.Category) bool {
	if t.opt.Disabled {
		return false
	}
	return t.state(cat).factor < 1
}
