package metrics

import (
	"sort"
	"time"
)

// window is one fixed-duration bucket of samples. Samples are keyed by
// category+"/"+metric. A window is sealed exactly once, when its end time
// passes; sealed windows are never modified again.
type window struct {
	start   time.Time
	end     time.Time
	samples map[string][]float64

	sealed    bool
	summaries map[string]Summary // computed at seal time
}

func newWindow(start time.Time, size time.Duration) *window {
	return &window{
		start:   start,
		end:     start.Add(size),
		samples: make(map[string][]float64),
	}
}

func sampleKey(category, metric string) string { return category + "/" + metric }

func (w *window) add(category, metric string, v float64) {
	k := sampleKey(category, metric)
	w.samples[k] = append(w.samples[k], v)
}

// seal freezes the window and precomputes per-metric summaries.
func (w *window) seal() {
	if w.sealed {
		return
	}
	w.sealed = true
	w.summaries = make(map[string]Summary, len(w.samples))
	for k, vals := range w.samples {
		w.summaries[k] = summarize(vals)
	}
}

// summarize computes count/min/max/avg and a simple nearest-rank p95.
func summarize(vals []float64) Summary {
	if len(vals) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(vals), Min: vals[0], Max: vals[0]}
	sum := 0.0
	for _, v := range vals {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Avg = sum / float64(len(vals))

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	rank := (95*len(sorted) + 99) / 100 // nearest-rank, 1-based
	if rank < 1 {
		rank = 1
	}
	s.P95 = sorted[rank-1]
	return s
}

// avg of the samples for one key in this window (sealed or open).
func (w *window) avg(key string) (float64, int) {
	vals := w.samples[key]
	if len(vals) == 0 {
		return 0, 0
	}
	if w.sealed {
		sum := w.summaries[key]
		return sum.Avg, sum.Count
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), len(vals)
}
