// Package metrics collects pipeline counters and latency histograms and
// tracks readiness for the health endpoint.
package metrics

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// maxSamples bounds each histogram's reservoir. Old samples rotate out so
// quantiles track recent behavior.
const maxSamples = 1024

// Registry holds named counters and histograms. All methods are safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]int64
	histograms map[string]*histogram

	readyMu     sync.RWMutex
	notReady    map[string]string
	fatalReason string
}

type histogram struct {
	samples []float64
	next    int
	full    bool
	count   int64
	sum     float64
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]int64),
		histograms: make(map[string]*histogram),
		notReady:   make(map[string]string),
	}
}

// Inc increments a counter by 1.
func (r *Registry) Inc(name string) { r.Add(name, 1) }

// Add increments a counter by delta.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	r.counters[name] += delta
	r.mu.Unlock()
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// Observe records one sample into a histogram.
func (r *Registry) Observe(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histograms[name]
	if !ok {
		h = &histogram{samples: make([]float64, 0, maxSamples)}
		r.histograms[name] = h
	}

	h.count++
	h.sum += value
	if len(h.samples) < maxSamples {
		h.samples = append(h.samples, value)
		return
	}
	h.samples[h.next] = value
	h.next = (h.next + 1) % maxSamples
	h.full = true
}

// HistogramSummary describes one histogram for the metrics endpoint.
type HistogramSummary struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// Summary returns the quantile summary of one histogram, or nil if the
// histogram has no samples.
func (r *Registry) Summary(name string) *HistogramSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histograms[name]
	if !ok || len(h.samples) == 0 {
		return nil
	}

	sorted := make([]float64, len(h.samples))
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	return &HistogramSummary{
		Count: h.count,
		Mean:  h.sum / float64(h.count),
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:   stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:   sorted[len(sorted)-1],
	}
}

// Snapshot returns all counters and histogram summaries.
func (r *Registry) Snapshot() (map[string]int64, map[string]HistogramSummary) {
	r.mu.RLock()
	names := make([]string, 0, len(r.histograms))
	for name := range r.histograms {
		names = append(names, name)
	}
	counters := make(map[string]int64, len(r.counters))
	for name, v := range r.counters {
		counters[name] = v
	}
	r.mu.RUnlock()

	summaries := make(map[string]HistogramSummary, len(names))
	for _, name := range names {
		if s := r.Summary(name); s != nil {
			summaries[name] = *s
		}
	}
	return counters, summaries
}

// SetNotReady marks a subsystem as not ready with a reason.
func (r *Registry) SetNotReady(subsystem, reason string) {
	r.readyMu.Lock()
	r.notReady[subsystem] = reason
	r.readyMu.Unlock()
}

// SetReady clears a subsystem's not-ready mark.
func (r *Registry) SetReady(subsystem string) {
	r.readyMu.Lock()
	delete(r.notReady, subsystem)
	r.readyMu.Unlock()
}

// TripFatal latches a fatal invariant violation. Readiness never recovers
// from this without a restart.
func (r *Registry) TripFatal(reason string) {
	r.readyMu.Lock()
	if r.fatalReason == "" {
		r.fatalReason = reason
	}
	r.readyMu.Unlock()
}

// Ready reports overall readiness and the blocking reasons.
func (r *Registry) Ready() (bool, map[string]string) {
	r.readyMu.RLock()
	defer r.readyMu.RUnlock()

	reasons := make(map[string]string, len(r.notReady)+1)
	for k, v := range r.notReady {
		reasons[k] = v
	}
	if r.fatalReason != "" {
		reasons["fatal"] = r.fatalReason
	}
	return len(reasons) == 0, reasons
}
