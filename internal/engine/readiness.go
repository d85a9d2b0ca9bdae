package engine

import (
	"time"

	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

// Evaluator derives the binary readiness decision from the current latency
// percentile and resource sample. It holds no state beyond its thresholds:
// identical inputs always yield identical output, and transition detection
// belongs to the RecoveryTimer.
type Evaluator struct {
	maxLatency    time.Duration
	maxMemoryMB   float64
	maxCPUPercent float64
	minSamples    int
}

// NewEvaluator constructs an Evaluator from the configured thresholds.
// A zero MaxCPUPercent disables the CPU rule.
func NewEvaluator(cfg config.ReadinessConfig) *Evaluator {
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = 1
	}
	return &Evaluator{
		maxLatency:    cfg.MaxLatency,
		maxMemoryMB:   cfg.MaxMemoryMB,
		maxCPUPercent: cfg.MaxCPUPercent,
		minSamples:    minSamples,
	}
}

// Evaluate returns the readiness decision for the given inputs. When several
// thresholds are breached, a single reason is reported in fixed priority
// order: memory, then latency, then CPU. The latency rule is skipped while
// fewer than minSamples samples exist, so a cold start is never unready for
// lack of data. Since is stamped by the transition owner, not here.
func (e *Evaluator) Evaluate(p95 time.Duration, sampleCount int, res models.ResourceSample) models.ReadinessState {
	if e.maxMemoryMB > 0 && res.MemoryMB > e.maxMemoryMB {
		return models.ReadinessState{IsReady: false, Reason: models.ReasonHighMemory}
	}
	if e.maxLatency > 0 && sampleCount >= e.minSamples && p95 > e.maxLatency {
		return models.ReadinessState{IsReady: false, Reason: models.ReasonHighLatency}
	}
	if e.maxCPUPercent > 0 && res.CPUPercent > e.maxCPUPercent {
		return models.ReadinessState{IsReady: false, Reason: models.ReasonHighCPU}
	}
	return models.ReadinessState{IsReady: true, Reason: models.ReasonOK}
}
