package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

// recordingSink captures sink calls for assertions.
type recordingSink struct {
	mu         sync.Mutex
	counters   map[string]int
	histograms map[string][]float64
	gauges     map[string]float64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		counters:   make(map[string]int),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
	}
}

func (s *recordingSink) IncrementCounter(name string, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

func (s *recordingSink) ObserveHistogram(name string, labels map[string]string, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name
	if class := labels["class"]; class != "" {
		key = name + ":" + class
	}
	s.histograms[key] = append(s.histograms[key], seconds)
}

func (s *recordingSink) SetGauge(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] = value
}

func (s *recordingSink) histogram(key string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.histograms[key]...)
}

func (s *recordingSink) counter(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

func newTestTimer(sink Sink) (*RecoveryTimer, *time.Time) {
	current := time.Unix(1_700_000_000, 0)
	timer := NewRecoveryTimer(sink)
	timer.now = func() time.Time { return current }
	return timer, &current
}

func readyState() models.ReadinessState {
	return models.ReadinessState{IsReady: true, Reason: models.ReasonOK}
}

func unreadyState(reason models.ReadinessReason) models.ReadinessState {
	return models.ReadinessState{IsReady: false, Reason: reason}
}

func TestEpisodeLifecycleDurations(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	// Onset at t=0, unready at t=2s, ready again at t=7s.
	timer.MarkOnset(models.ClassCPU)

	*current = current.Add(2 * time.Second)
	state, flipped := timer.ObserveReadiness(unreadyState(models.ReasonHighCPU))
	if !flipped || state.IsReady {
		t.Fatalf("expected flip to unready, got %+v flipped=%v", state, flipped)
	}

	*current = current.Add(5 * time.Second)
	state, flipped = timer.ObserveReadiness(readyState())
	if !flipped || !state.IsReady {
		t.Fatalf("expected flip to ready, got %+v flipped=%v", state, flipped)
	}

	if got := sink.histogram(metrics.MetricDetectionSeconds + ":cpu"); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected detection latency of 2s, got %v", got)
	}
	if got := sink.histogram(metrics.MetricRecoverySeconds + ":cpu"); len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected recovery duration of 5s, got %v", got)
	}
	if got := sink.histogram(metrics.MetricTotalRecoverySeconds + ":cpu"); len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected total TTR of 7s, got %v", got)
	}
	if open := timer.OpenEpisodes(); open != nil {
		t.Fatalf("expected episode closed, got %v", open)
	}
}

func TestSecondOnsetCoalesces(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	timer.MarkOnset(models.ClassMemory)
	*current = current.Add(time.Second)
	timer.MarkOnset(models.ClassMemory)

	open := timer.OpenEpisodes()
	if len(open) != 1 {
		t.Fatalf("expected one open episode, got %d", len(open))
	}

	*current = current.Add(2 * time.Second)
	timer.ObserveReadiness(unreadyState(models.ReasonHighMemory))

	// Detection latency measures from the first onset: 3s, not 2s.
	if got := sink.histogram(metrics.MetricDetectionSeconds + ":memory"); len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected detection measured from first onset, got %v", got)
	}
}

func TestOrganicDegradationOpensDetectedEpisode(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	timer.ObserveReadiness(readyState())
	*current = current.Add(time.Second)
	timer.ObserveReadiness(unreadyState(models.ReasonHighLatency))

	open := timer.OpenEpisodes()
	if len(open) != 1 || open[0].Class != models.ClassLatency || open[0].State != "detected" {
		t.Fatalf("expected detected latency episode, got %v", open)
	}
	// No injection happened, so nothing to measure detection from.
	if got := sink.histogram(metrics.MetricDetectionSeconds + ":latency"); len(got) != 0 {
		t.Fatalf("expected no detection observation for organic failure, got %v", got)
	}

	*current = current.Add(4 * time.Second)
	timer.ObserveReadiness(readyState())

	if got := sink.histogram(metrics.MetricRecoverySeconds + ":latency"); len(got) != 1 || got[0] != 4 {
		t.Fatalf("expected recovery measured from detection, got %v", got)
	}
}

func TestRepeatedObservationsAreNotFlips(t *testing.T) {
	sink := newRecordingSink()
	timer, _ := newTestTimer(sink)

	if _, flipped := timer.ObserveReadiness(readyState()); flipped {
		t.Fatal("initial ready observation must not flip")
	}
	if _, flipped := timer.ObserveReadiness(readyState()); flipped {
		t.Fatal("repeated ready observation must not flip")
	}

	if _, flipped := timer.ObserveReadiness(unreadyState(models.ReasonHighMemory)); !flipped {
		t.Fatal("expected flip to unready")
	}
	if _, flipped := timer.ObserveReadiness(unreadyState(models.ReasonHighMemory)); flipped {
		t.Fatal("repeated unready observation must not flip")
	}
}

func TestSinceTracksLastFlip(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	start := *current
	state, _ := timer.ObserveReadiness(readyState())
	if !state.Since.Equal(start) {
		t.Fatalf("expected since %v, got %v", start, state.Since)
	}

	*current = current.Add(10 * time.Second)
	state, _ = timer.ObserveReadiness(readyState())
	if !state.Since.Equal(start) {
		t.Fatalf("since must not move without a flip, got %v", state.Since)
	}

	*current = current.Add(10 * time.Second)
	flipAt := *current
	state, _ = timer.ObserveReadiness(unreadyState(models.ReasonHighMemory))
	if !state.Since.Equal(flipAt) {
		t.Fatalf("expected since %v after flip, got %v", flipAt, state.Since)
	}
}

func TestOrderingInvariantForClosedEpisodes(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	var transitions []EpisodeState
	timer.OnTransition(func(_ models.FailureClass, _, to EpisodeState, _ time.Time, _ string) {
		transitions = append(transitions, to)
	})

	timer.MarkOnset(models.ClassCPU)
	*current = current.Add(time.Second)
	timer.ObserveReadiness(unreadyState(models.ReasonHighCPU))
	*current = current.Add(time.Second)
	timer.ObserveReadiness(readyState())

	want := []EpisodeState{StateFailing, StateDetected, StateRecovering, StateHealthy}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i, state := range want {
		if transitions[i] != state {
			t.Fatalf("transition %d: expected %s, got %s", i, state, transitions[i])
		}
	}
}

func TestUndetectedEpisodeDiscardedOnRecovery(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	timer.ObserveReadiness(readyState())
	*current = current.Add(time.Second)
	timer.ObserveReadiness(unreadyState(models.ReasonHighMemory))

	// A cpu fault injected while readiness is already down stays Failing:
	// there is no further unready flip to detect it on.
	timer.MarkOnset(models.ClassCPU)
	*current = current.Add(time.Second)
	timer.ObserveReadiness(readyState())

	if open := timer.OpenEpisodes(); open != nil {
		t.Fatalf("expected all episodes closed after recovery, got %v", open)
	}
	// The cpu episode was never detected; it must not produce durations.
	if got := sink.histogram(metrics.MetricRecoverySeconds + ":cpu"); len(got) != 0 {
		t.Fatalf("undetected episode produced recovery observation: %v", got)
	}
}

func TestRecordStartupWithMarker(t *testing.T) {
	sink := newRecordingSink()
	timer, current := newTestTimer(sink)

	interval, measured := timer.RecordStartup(current.Add(-12*time.Second), true)
	if !measured || interval != 12*time.Second {
		t.Fatalf("expected measured 12s interval, got %v measured=%v", interval, measured)
	}
	if got := sink.histogram(metrics.MetricCrashToStartupSeconds); len(got) != 1 || got[0] != 12 {
		t.Fatalf("expected crash-to-startup observation, got %v", got)
	}
}

func TestRecordStartupWithoutMarkerIsUnmeasurable(t *testing.T) {
	sink := newRecordingSink()
	timer, _ := newTestTimer(sink)

	if _, measured := timer.RecordStartup(time.Time{}, false); measured {
		t.Fatal("expected unmeasurable startup interval")
	}
	if got := sink.histogram(metrics.MetricCrashToStartupSeconds); len(got) != 0 {
		t.Fatalf("unmeasurable interval must not be fabricated, got %v", got)
	}
	if sink.counter(metrics.MetricCrashUnmeasurableTotal) != 1 {
		t.Fatal("expected unmeasurable counter increment")
	}
}
