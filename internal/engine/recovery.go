package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

// EpisodeState is a recovery state machine position for one failure class.
type EpisodeState int

const (
	StateHealthy EpisodeState = iota
	StateFailing
	StateDetected
	StateRecovering
)

// String returns the string representation of the state.
func (s EpisodeState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateFailing:
		return "failing"
	case StateDetected:
		return "detected"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

type episode struct {
	id       string
	class    models.FailureClass
	state    EpisodeState
	onset    time.Time
	detected time.Time
}

// RecoveryTimer owns failure episodes and converts their transitions into
// duration observations. Episodes are per failure class with at most one open
// episode per class; readiness is global, so a readiness flip fans out to
// every open episode. Transition order, not timestamp comparison, guarantees
// detection never precedes onset and recovery never precedes detection.
type RecoveryTimer struct {
	mu       sync.Mutex
	episodes map[models.FailureClass]*episode
	sink     Sink

	ready    bool
	observed bool
	since    time.Time
	now      func() time.Time
	newID    func() string
	onChange func(class models.FailureClass, from, to EpisodeState, at time.Time, episodeID string)
}

// NewRecoveryTimer constructs a timer emitting observations to sink.
func NewRecoveryTimer(sink Sink) *RecoveryTimer {
	if sink == nil {
		sink = NopSink{}
	}
	return &RecoveryTimer{
		episodes: make(map[models.FailureClass]*episode),
		sink:     sink,
		ready:    true,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// OnTransition registers a hook invoked on every episode state change, inside
// the timer lock. Hooks must not call back into the timer.
func (t *RecoveryTimer) OnTransition(hook func(class models.FailureClass, from, to EpisodeState, at time.Time, episodeID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = hook
}

func (t *RecoveryTimer) transitionLocked(ep *episode, to EpisodeState, at time.Time) {
	from := ep.state
	ep.state = to
	if t.onChange != nil {
		t.onChange(ep.class, from, to, at, ep.id)
	}
}

// MarkOnset opens a Failing episode for the class. A second onset while an
// episode is open coalesces into the existing episode rather than restarting
// it, so one burn-out cannot be measured twice.
func (t *RecoveryTimer) MarkOnset(class models.FailureClass) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, open := t.episodes[class]; open {
		return
	}
	ep := &episode{
		id:    t.newID(),
		class: class,
		state: StateHealthy,
		onset: t.now(),
	}
	t.episodes[class] = ep
	t.transitionLocked(ep, StateFailing, ep.onset)
}

// ObserveReadiness drives the per-class episodes from a fresh readiness
// decision, stamps Since with the time of the last global flip, and reports
// whether this call was a flip.
//
// On ready to unready, every Failing episode moves to Detected and its
// detection latency is observed. If no episode is open the degradation was
// organic (nothing injected): an episode for the class implied by the reason
// opens directly in Detected, with no detection observation, since there is
// no onset to measure from.
//
// On unready to ready, every Detected episode moves through Recovering to
// Healthy, the recovery and total-TTR durations are observed, and the episode
// is closed. Episodes still Failing never became unready; they are discarded
// so a stale onset cannot poison the next detection measurement.
func (t *RecoveryTimer) ObserveReadiness(state models.ReadinessState) (models.ReadinessState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.observed {
		t.observed = true
		t.since = now
	}

	flipped := state.IsReady != t.ready
	if flipped {
		t.ready = state.IsReady
		t.since = now
		if state.IsReady {
			t.markRecoveredLocked(now)
		} else {
			t.markDetectedLocked(state.Reason, now)
		}
	}

	state.Since = t.since
	return state, flipped
}

func (t *RecoveryTimer) markDetectedLocked(reason models.ReadinessReason, now time.Time) {
	detectedAny := false
	for _, ep := range t.episodes {
		if ep.state != StateFailing {
			continue
		}
		ep.detected = now
		t.transitionLocked(ep, StateDetected, now)
		t.sink.ObserveHistogram(metrics.MetricDetectionSeconds,
			map[string]string{"class": string(ep.class)},
			now.Sub(ep.onset).Seconds())
		detectedAny = true
	}
	if detectedAny {
		return
	}

	class, ok := reason.Class()
	if !ok {
		return
	}
	if _, open := t.episodes[class]; open {
		return
	}
	ep := &episode{
		id:       t.newID(),
		class:    class,
		state:    StateHealthy,
		onset:    now,
		detected: now,
	}
	t.episodes[class] = ep
	t.transitionLocked(ep, StateDetected, now)
}

func (t *RecoveryTimer) markRecoveredLocked(now time.Time) {
	for class, ep := range t.episodes {
		switch ep.state {
		case StateDetected:
			t.transitionLocked(ep, StateRecovering, now)
			t.sink.ObserveHistogram(metrics.MetricRecoverySeconds,
				map[string]string{"class": string(class)},
				now.Sub(ep.detected).Seconds())
			t.sink.ObserveHistogram(metrics.MetricTotalRecoverySeconds,
				map[string]string{"class": string(class)},
				now.Sub(ep.onset).Seconds())
			t.transitionLocked(ep, StateHealthy, now)
		case StateFailing:
			t.transitionLocked(ep, StateHealthy, now)
		default:
			continue
		}
		delete(t.episodes, class)
	}
}

// RecordStartup consumes the persisted last-known-unhealthy marker, if one
// exists, and observes the crash-to-startup interval. With no marker the
// interval is unmeasurable and is reported as such, never fabricated from a
// synthetic timestamp.
func (t *RecoveryTimer) RecordStartup(lastUnhealthy time.Time, ok bool) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ok {
		t.sink.IncrementCounter(metrics.MetricCrashUnmeasurableTotal, nil)
		return 0, false
	}

	interval := t.now().Sub(lastUnhealthy)
	if interval < 0 {
		interval = 0
	}
	t.sink.ObserveHistogram(metrics.MetricCrashToStartupSeconds, nil, interval.Seconds())
	return interval, true
}

// OpenEpisodes lists the open episodes for status payloads.
func (t *RecoveryTimer) OpenEpisodes() []models.EpisodeSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.episodes) == 0 {
		return nil
	}
	snapshots := make([]models.EpisodeSnapshot, 0, len(t.episodes))
	for _, ep := range t.episodes {
		snapshots = append(snapshots, models.EpisodeSnapshot{
			EpisodeID: ep.id,
			Class:     ep.class,
			State:     ep.state.String(),
			Onset:     ep.onset,
			Detected:  ep.detected,
		})
	}
	return snapshots
}
