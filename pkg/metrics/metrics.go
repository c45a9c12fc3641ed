package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Summary is the aggregated state of one histogram.
type Summary struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Snapshot is a point-in-time copy of a Registry keyed by "name{label=value,...}".
type Snapshot struct {
	Counters   map[string]float64 `json:"counters"`
	Gauges     map[string]float64 `json:"gauges"`
	Histograms map[string]Summary `json:"histograms"`
}

// Registry is an in-memory Collector.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]Summary
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]Summary),
	}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	k := seriesKey(name, labels)
	r.mu.Lock()
	r.counters[k] += delta
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	k := seriesKey(name, labels)
	r.mu.Lock()
	r.gauges[k] = value
	r.mu.Unlock()
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	k := seriesKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.histograms[k]
	if !ok || value < s.Min {
		s.Min = value
	}
	if !ok || value > s.Max {
		s.Max = value
	}
	s.Count++
	s.Sum += value
	r.histograms[k] = s
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Counters:   make(map[string]float64, len(r.counters)),
		Gauges:     make(map[string]float64, len(r.gauges)),
		Histograms: make(map[string]Summary, len(r.histograms)),
	}
	for k, v := range r.counters {
		s.Counters[k] = v
	}
	for k, v := range r.gauges {
		s.Gauges[k] = v
	}
	for k, v := range r.histograms {
		s.Histograms[k] = v
	}
	return s
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}
