// Package metrics counts handler outcomes. Prometheus backs it when an address
// is configured, otherwise every call goes to Dummy.
package metrics

import "sort"

type Metrics interface {
	WithPrefix(prefix string) Metrics
	Counter(name string, labels Labels) Counter
	Gauge(name string, labels Labels) Gauge
}

type Counter interface {
	Inc()
	Add(float64)
}

// Gauge tracks a value that goes up and down, like downloads in flight.
type Gauge interface {
	Inc()
	Dec()
}

type Labels map[string]string

// Keys returns label names in sorted order.
func (labels Labels) Keys() []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys
}

// Dummy discards everything.
var Dummy Metrics = discard{}

type discard struct{}

func (d discard) WithPrefix(string) Metrics { return d }
func (d discard) Counter(string, Labels) Counter { return d }
func (d discard) Gauge(string, Labels) Gauge { return d }
func (discard) Inc() {}
func (discard) Dec() {}
func (discard) Add(float64) {}
