package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/audit"
	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/marker"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

// Sink accepts counter increments, histogram observations, and gauge updates.
// The engine only ever talks to this interface; the Prometheus wiring lives
// outside the core.
type Sink interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, labels map[string]string, seconds float64)
	SetGauge(name string, value float64)
}

// NopSink discards all observations.
type NopSink struct{}

func (NopSink) IncrementCounter(string, map[string]string)          {}
func (NopSink) ObserveHistogram(string, map[string]string, float64) {}
func (NopSink) SetGauge(string, float64)                            {}

// ResourceSampler supplies current process CPU and memory usage.
type ResourceSampler interface {
	Sample() (models.ResourceSample, error)
}

// Engine composes the latency tracker, readiness evaluator, chaos guardrail,
// and recovery timer into the process-local signal engine. Each readiness
// check re-evaluates the thresholds against fresh inputs; flips drive the
// recovery timer, the audit stream, and the persisted unhealthy marker.
type Engine struct {
	logger    *slog.Logger
	auditLog  *audit.Logger
	sink      Sink
	tracker   *LatencyTracker
	evaluator *Evaluator
	guardrail *Guardrail
	timer     *RecoveryTimer
	sampler   ResourceSampler
	store     marker.Store
	now       func() time.Time
}

// New constructs the signal engine. A nil sink, store, audit logger, or
// logger falls back to a no-op implementation.
func New(
	readiness config.ReadinessConfig,
	chaosCfg config.ChaosConfig,
	src ResourceSampler,
	sink Sink,
	store marker.Store,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if store == nil {
		store = marker.NoopStore{}
	}
	if auditLog == nil {
		auditLog = audit.New(io.Discard)
	}

	e := &Engine{
		logger:    logger,
		auditLog:  auditLog,
		sink:      sink,
		tracker:   NewLatencyTracker(readiness.WindowSize, readiness.MinSamples, readiness.MaxSampleAge),
		evaluator: NewEvaluator(readiness),
		guardrail: NewGuardrail(chaosCfg),
		timer:     NewRecoveryTimer(sink),
		sampler:   src,
		store:     store,
		now:       time.Now,
	}
	e.timer.OnTransition(func(class models.FailureClass, from, to EpisodeState, at time.Time, episodeID string) {
		auditLog.RecoveryTransition(class, from.String(), to.String(), at, episodeID)
	})
	return e
}

// RecordLatency feeds one request duration into the rolling window.
func (e *Engine) RecordLatency(d time.Duration) {
	e.tracker.Record(d)
}

// Guardrail exposes the admission gate for the fault injector.
func (e *Engine) Guardrail() *Guardrail { return e.guardrail }

// MarkOnset records failure onset for a class with the recovery timer.
func (e *Engine) MarkOnset(class models.FailureClass) {
	e.timer.MarkOnset(class)
}

// IsLive reports process liveness. It is trivially true: if the process can
// answer at all, it is alive.
func (e *Engine) IsLive() bool { return true }

// CheckReadiness recomputes the readiness decision from the current latency
// window and a fresh resource sample, pushes the result through the recovery
// timer, updates gauges, and maintains the persisted unhealthy marker.
func (e *Engine) CheckReadiness(ctx context.Context) models.ReadinessState {
	snap := e.tracker.Snapshot()

	var res models.ResourceSample
	if e.sampler != nil {
		var err error
		res, err = e.sampler.Sample()
		if err != nil {
			e.logger.Warn("resource sample failed", slog.Any("error", err))
			res = models.ResourceSample{Timestamp: e.now()}
		}
	}

	state, flipped := e.timer.ObserveReadiness(e.evaluator.Evaluate(snap.P95, snap.Count, res))

	if state.IsReady {
		e.sink.SetGauge(metrics.MetricPodReadyStatus, 1)
	} else {
		e.sink.SetGauge(metrics.MetricPodReadyStatus, 0)
	}
	e.sink.SetGauge(metrics.MetricMemoryUsageBytes, res.MemoryMB*1024*1024)

	if flipped {
		if state.IsReady {
			e.logger.Info("readiness recovered", slog.Duration("p95", snap.P95))
			e.auditLog.ReadinessRecovered()
			e.sink.IncrementCounter(metrics.MetricPodRecoveryCount, nil)
			if err := e.store.Clear(ctx); err != nil {
				e.logger.Warn("clear unhealthy marker failed", slog.Any("error", err))
			}
		} else {
			e.logger.Warn("readiness probe failing",
				slog.String("reason", string(state.Reason)),
				slog.Duration("p95", snap.P95),
				slog.Float64("memory_mb", res.MemoryMB),
				slog.Float64("cpu_percent", res.CPUPercent))
			e.auditLog.ReadinessDegraded(state.Reason)
		}
	}

	if !state.IsReady {
		if err := e.store.Write(ctx, e.now()); err != nil {
			e.logger.Warn("write unhealthy marker failed", slog.Any("error", err))
		}
	}

	return state
}

// PersistUnhealthy writes the marker immediately, ahead of a deliberate
// crash, so the next boot can measure its startup interval.
func (e *Engine) PersistUnhealthy(ctx context.Context) error {
	return e.store.Write(ctx, e.now())
}

// Startup consumes the persisted marker from a previous instance and records
// either a measured crash-to-startup interval or an explicit unmeasurable
// observation. Call once per process start.
func (e *Engine) Startup(ctx context.Context) {
	e.sink.IncrementCounter(metrics.MetricPodRecoveryCount, nil)
	e.auditLog.PodRestart()

	lastUnhealthy, err := e.store.Read(ctx)
	switch {
	case err == nil:
		interval, _ := e.timer.RecordStartup(lastUnhealthy, true)
		e.logger.Info("startup interval measured from persisted marker",
			slog.Duration("crash_to_startup", interval))
		if err := e.store.Clear(ctx); err != nil {
			e.logger.Warn("clear unhealthy marker failed", slog.Any("error", err))
		}
	case errors.Is(err, marker.ErrNoMarker):
		e.timer.RecordStartup(time.Time{}, false)
		e.auditLog.CrashWindowUnmeasurable()
		e.logger.Info("no unhealthy marker persisted, startup interval unmeasurable")
	default:
		e.timer.RecordStartup(time.Time{}, false)
		e.auditLog.CrashWindowUnmeasurable()
		e.logger.Warn("read unhealthy marker failed", slog.Any("error", err))
	}
}

// Snapshot assembles the full engine view for the status endpoint.
func (e *Engine) Snapshot(ctx context.Context) models.StatusSnapshot {
	state := e.CheckReadiness(ctx)

	var res models.ResourceSample
	if e.sampler != nil {
		res, _ = e.sampler.Sample()
	}

	return models.StatusSnapshot{
		Readiness: state,
		Latency:   e.tracker.Snapshot(),
		Resources: res,
		Guardrail: e.guardrail.Snapshot(),
		Episodes:  e.timer.OpenEpisodes(),
	}
}
