package metrics

import (
	"sort"
	"strings"
	"time"
)

// Report is a point-in-time operational summary derived from sealed plus
// open window data. It is a pure read; nothing is mutated to produce it.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	// OpCounts is operations by category (success + failure outcomes).
	OpCounts map[string]int `json:"op_counts"`
	// SuccessRate is successes / (successes + failures), 1.0 when idle.
	SuccessRate float64 `json:"success_rate"`
	// AvgLatencyMs is the mean of every latency sample in range.
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	// CacheHitRatio is hits / (hits + misses), 0 when no cache traffic.
	CacheHitRatio float64 `json:"cache_hit_ratio"`
}

// Ranked is one entry of a TopN ranking.
type Ranked struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// Summary builds a Report over the last timeRange.
func (a *Aggregator) Summary(timeRange time.Duration) Report {
	a.Sync()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.rollLocked(now)
	from := now.Add(-timeRange)

	rep := Report{GeneratedAt: now, OpCounts: make(map[string]int)}
	var successes, failures, hits, misses int
	var latSum float64
	var latN int

	a.scanLocked(from, func(category, metric string, vals []float64) {
		switch metric {
		case MetricSuccess:
			successes += len(vals)
			rep.OpCounts[category] += len(vals)
		case MetricFailure:
			failures += len(vals)
			rep.OpCounts[category] += len(vals)
		case MetricCacheHit:
			hits += len(vals)
		case MetricCacheMiss:
			misses += len(vals)
		case MetricLatency:
			for _, v := range vals {
				latSum += v
			}
			latN += len(vals)
		}
	})

	rep.SuccessRate = 1.0
	if successes+failures > 0 {
		rep.SuccessRate = float64(successes) / float64(successes+failures)
	}
	if latN > 0 {
		rep.AvgLatencyMs = latSum / float64(latN)
	}
	if hits+misses > 0 {
		rep.CacheHitRatio = float64(hits) / float64(hits+misses)
	}
	return rep
}

// TopN ranks categories by the total of one metric over the last timeRange,
// descending. Ties break alphabetically so the order is stable.
func (a *Aggregator) TopN(metric string, n int, timeRange time.Duration) []Ranked {
	a.Sync()

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.rollLocked(now)
	from := now.Add(-timeRange)

	byCat := make(map[string]*Ranked)
	a.scanLocked(from, func(category, m string, vals []float64) {
		if m != metric {
			return
		}
		r, ok := byCat[category]
		if !ok {
			r = &Ranked{Category: category}
			byCat[category] = r
		}
		for _, v := range vals {
			r.Total += v
		}
		r.Count += len(vals)
	})

	out := make([]Ranked, 0, len(byCat))
	for _, r := range byCat {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Category < out[j].Category
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// scanLocked visits every (category, metric, samples) triple of windows
// overlapping [from, now], sealed first, then the open window.
func (a *Aggregator) scanLocked(from time.Time, visit func(category, metric string, vals []float64)) {
	emit := func(w *window) {
		if w.end.Before(from) {
			return
		}
		for k, vals := range w.samples {
			if i := strings.IndexByte(k, '/'); i > 0 {
				visit(k[:i], k[i+1:], vals)
			}
		}
	}
	for _, w := range a.sealed {
		emit(w)
	}
	emit(a.cur)
}
