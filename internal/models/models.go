package models

import (
	"fmt"
	"time"
)

// FailureClass enumerates the fault categories tracked independently by the
// recovery timer.
type FailureClass string

const (
	ClassCPU     FailureClass = "cpu"
	ClassMemory  FailureClass = "memory"
	ClassCrash   FailureClass = "crash"
	ClassLatency FailureClass = "latency"
)

// Injectable reports whether the class can be triggered through the fault
// endpoints. Latency failures are only ever detected, never injected.
func (c FailureClass) Injectable() bool {
	switch c {
	case ClassCPU, ClassMemory, ClassCrash:
		return true
	}
	return false
}

// ParseFailureClass converts user input into a FailureClass.
func ParseFailureClass(value string) (FailureClass, error) {
	switch FailureClass(value) {
	case ClassCPU, ClassMemory, ClassCrash, ClassLatency:
		return FailureClass(value), nil
	}
	return "", fmt.Errorf("unknown failure class %q", value)
}

// ReadinessReason identifies the highest-priority threshold breach behind an
// unready signal.
type ReadinessReason string

const (
	ReasonOK          ReadinessReason = "ok"
	ReasonHighMemory  ReadinessReason = "high_memory"
	ReasonHighLatency ReadinessReason = "high_latency"
	ReasonHighCPU     ReadinessReason = "high_cpu"
)

// Class maps an unready reason onto the failure class it implies.
func (r ReadinessReason) Class() (FailureClass, bool) {
	switch r {
	case ReasonHighMemory:
		return ClassMemory, true
	case ReasonHighLatency:
		return ClassLatency, true
	case ReasonHighCPU:
		return ClassCPU, true
	}
	return "", false
}

// ResourceSample is a point-in-time view of process resource usage.
type ResourceSample struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReadinessState is the readiness decision for a single evaluation.
// Reason is ReasonOK exactly when IsReady is true.
type ReadinessState struct {
	IsReady bool            `json:"is_ready"`
	Reason  ReadinessReason `json:"reason"`
	Since   time.Time       `json:"since"`
}

// LatencySnapshot summarises the rolling latency window for status payloads.
type LatencySnapshot struct {
	Count int           `json:"count"`
	P95   time.Duration `json:"p95"`
}

// GuardrailSnapshot exposes the chaos gate state for status payloads.
type GuardrailSnapshot struct {
	Active            int                            `json:"active"`
	MaxConcurrent     int                            `json:"max_concurrent"`
	CooldownRemaining map[FailureClass]time.Duration `json:"cooldown_remaining,omitempty"`
}

// EpisodeSnapshot describes an open failure episode.
type EpisodeSnapshot struct {
	EpisodeID string       `json:"episode_id"`
	Class     FailureClass `json:"failure_class"`
	State     string       `json:"state"`
	Onset     time.Time    `json:"onset"`
	Detected  time.Time    `json:"detected,omitempty"`
}

// StatusSnapshot is the full engine view served by the status endpoint.
type StatusSnapshot struct {
	Readiness ReadinessState    `json:"readiness"`
	Latency   LatencySnapshot   `json:"latency"`
	Resources ResourceSample    `json:"resources"`
	Guardrail GuardrailSnapshot `json:"guardrail"`
	Episodes  []EpisodeSnapshot `json:"episodes,omitempty"`
}
