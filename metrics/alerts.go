package metrics

import "time"

// ThresholdMode selects what an alert threshold is compared against.
type ThresholdMode int

const (
	// CompareValue checks each recorded sample directly (counters, spikes).
	CompareValue ThresholdMode = iota
	// CompareWindowAvg checks the current window's running average
	// (latency and other noisy series).
	CompareWindowAvg
)

// Threshold is a static alerting rule for one (category, metric) pair.
type Threshold struct {
	Category string
	Metric   string
	Limit    float64
	Mode     ThresholdMode
}

// Alert is one active threshold breach. At most one alert exists per
// (category, metric); a sustained breach re-fires at most once per cooldown.
type Alert struct {
	Category     string    `json:"category"`
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	Severity     string    `json:"severity"` // "warning" or "critical"
	FirstFiredAt time.Time `json:"first_fired_at"`
	LastFiredAt  time.Time `json:"last_fired_at"`
	// Fires counts how many cooldown periods re-fired this alert.
	Fires int `json:"fires"`
}

// severityFor grades a breach by overshoot: 2x the limit is critical.
func severityFor(value, limit float64) string {
	if limit > 0 && value >= 2*limit {
		return "critical"
	}
	return "warning"
}

// evaluateAlert is called by the consumer goroutine for every applied event
// whose (category, metric) has a threshold. It owns the alert map, so no
// locking is needed here.
func (a *Aggregator) evaluateAlert(th Threshold, ev Event) {
	observed := ev.Value
	if th.Mode == CompareWindowAvg {
		avg, n := a.cur.avg(sampleKey(ev.Category, ev.Metric))
		if n == 0 {
			return
		}
		observed = avg
	}
	if observed <= th.Limit {
		return
	}

	key := sampleKey(th.Category, th.Metric)
	now := ev.At
	if al, ok := a.alerts[key]; ok {
		if now.Sub(al.LastFiredAt) < a.cooldown {
			// Inside the suppression window: track the worst value only.
			if observed > al.Value {
				al.Value = observed
				al.Severity = severityFor(observed, th.Limit)
			}
			return
		}
		al.LastFiredAt = now
		al.Value = observed
		al.Severity = severityFor(observed, th.Limit)
		al.Fires++
		a.log.Warn("alert refired",
			"category", th.Category, "metric", th.Metric,
			"value", observed, "threshold", th.Limit)
		return
	}

	al := &Alert{
		Category:     th.Category,
		Metric:       th.Metric,
		Value:        observed,
		Threshold:    th.Limit,
		Severity:     severityFor(observed, th.Limit),
		FirstFiredAt: now,
		LastFiredAt:  now,
		Fires:        1,
	}
	a.alerts[key] = al
	a.log.Warn("alert fired",
		"category", th.Category, "metric", th.Metric,
		"value", observed, "threshold", th.Limit)
}
