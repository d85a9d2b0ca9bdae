package engine

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

func testReadinessConfig() config.ReadinessConfig {
	return config.ReadinessConfig{
		MaxLatency:    500 * time.Millisecond,
		MaxMemoryMB:   400,
		MaxCPUPercent: 80,
		MinSamples:    5,
	}
}

func TestEvaluate(t *testing.T) {
	eval := NewEvaluator(testReadinessConfig())

	cases := []struct {
		name    string
		p95     time.Duration
		samples int
		cpu     float64
		memory  float64
		ready   bool
		reason  models.ReadinessReason
	}{
		{"all healthy", 50 * time.Millisecond, 10, 20, 100, true, models.ReasonOK},
		{"memory breach", 50 * time.Millisecond, 10, 20, 450, false, models.ReasonHighMemory},
		{"latency breach", 900 * time.Millisecond, 10, 20, 100, false, models.ReasonHighLatency},
		{"cpu breach", 50 * time.Millisecond, 10, 95, 100, false, models.ReasonHighCPU},
		{"memory outranks latency", 900 * time.Millisecond, 10, 20, 450, false, models.ReasonHighMemory},
		{"memory outranks cpu", 50 * time.Millisecond, 10, 95, 450, false, models.ReasonHighMemory},
		{"latency outranks cpu", 900 * time.Millisecond, 10, 95, 100, false, models.ReasonHighLatency},
		{"latency ignored below min samples", 900 * time.Millisecond, 3, 20, 100, true, models.ReasonOK},
		{"exactly at memory threshold is ready", 50 * time.Millisecond, 10, 20, 400, true, models.ReasonOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := eval.Evaluate(tc.p95, tc.samples, models.ResourceSample{CPUPercent: tc.cpu, MemoryMB: tc.memory})
			if state.IsReady != tc.ready || state.Reason != tc.reason {
				t.Fatalf("got ready=%v reason=%s, want ready=%v reason=%s", state.IsReady, state.Reason, tc.ready, tc.reason)
			}
			if state.IsReady != (state.Reason == models.ReasonOK) {
				t.Fatalf("reason/readiness invariant violated: %+v", state)
			}
		})
	}
}

func TestEvaluateIsPure(t *testing.T) {
	eval := NewEvaluator(testReadinessConfig())
	sample := models.ResourceSample{CPUPercent: 20, MemoryMB: 450}

	first := eval.Evaluate(50*time.Millisecond, 10, sample)
	for i := 0; i < 5; i++ {
		if got := eval.Evaluate(50*time.Millisecond, 10, sample); got != first {
			t.Fatalf("same inputs produced different state: %+v != %+v", got, first)
		}
	}
}

func TestEvaluateCPUDisabled(t *testing.T) {
	cfg := testReadinessConfig()
	cfg.MaxCPUPercent = 0
	eval := NewEvaluator(cfg)

	state := eval.Evaluate(50*time.Millisecond, 10, models.ResourceSample{CPUPercent: 100, MemoryMB: 100})
	if !state.IsReady {
		t.Fatalf("expected ready with CPU rule disabled, got %+v", state)
	}
}
