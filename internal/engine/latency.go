package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

type latencySample struct {
	at time.Time
	d  time.Duration
}

// LatencyTracker stores a bounded rolling window of request durations and
// computes percentiles over the live window. Samples beyond the capacity are
// evicted oldest-first; when maxAge is set, expired samples are excluded too.
type LatencyTracker struct {
	mu         sync.RWMutex
	samples    []latencySample
	capacity   int
	maxAge     time.Duration
	minSamples int
	now        func() time.Time
}

// NewLatencyTracker creates a tracker storing up to capacity samples.
// Percentile queries return the zero sentinel until minSamples samples exist.
func NewLatencyTracker(capacity, minSamples int, maxAge time.Duration) *LatencyTracker {
	if capacity <= 0 {
		capacity = 100
	}
	if minSamples <= 0 {
		minSamples = 1
	}
	return &LatencyTracker{
		capacity:   capacity,
		minSamples: minSamples,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends a duration sample, evicting the oldest when over capacity.
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples = append(l.samples, latencySample{at: l.now(), d: d})
	if len(l.samples) > l.capacity {
		copy(l.samples[0:], l.samples[1:])
		l.samples = l.samples[:l.capacity]
	}
	l.pruneLocked()
}

// Percentile returns the percentile (0-100) duration over the live window.
// Returns zero when fewer than minSamples live samples exist.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	live := l.liveLocked()
	if len(live) < l.minSamples {
		return 0
	}

	sorted := append([]time.Duration(nil), live...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := int((p / 100.0) * float64(len(sorted)-1))
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Count returns the number of live samples in the window.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.liveLocked())
}

// Snapshot summarises the window for status payloads.
func (l *LatencyTracker) Snapshot() models.LatencySnapshot {
	return models.LatencySnapshot{
		Count: l.Count(),
		P95:   l.Percentile(95),
	}
}

// liveLocked returns the unexpired durations. Callers hold at least a read
// lock.
func (l *LatencyTracker) liveLocked() []time.Duration {
	live := make([]time.Duration, 0, len(l.samples))
	var cutoff time.Time
	if l.maxAge > 0 {
		cutoff = l.now().Add(-l.maxAge)
	}
	for _, sample := range l.samples {
		if !cutoff.IsZero() && sample.at.Before(cutoff) {
			continue
		}
		live = append(live, sample.d)
	}
	return live
}

// pruneLocked drops expired samples from the front of the window.
func (l *LatencyTracker) pruneLocked() {
	if l.maxAge <= 0 {
		return
	}
	cutoff := l.now().Add(-l.maxAge)
	drop := 0
	for drop < len(l.samples) && l.samples[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		l.samples = append(l.samples[:0], l.samples[drop:]...)
	}
}
