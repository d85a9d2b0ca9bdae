package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/sampler"
)

type recordingHealth struct {
	mu     sync.Mutex
	states []bool
}

func (h *recordingHealth) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, ready)
}

func (h *recordingHealth) last() (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return false, 0
	}
	return h.states[len(h.states)-1], len(h.states)
}

func TestMonitorMirrorsReadinessIntoHealth(t *testing.T) {
	src := sampler.NewFixed(10, 450)
	eng := newTestEngine(src, nil, nil)
	health := &recordingHealth{}
	mon := NewMonitor(eng, 5*time.Millisecond, health, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if ready, n := health.last(); n > 0 && !ready {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never reported unready")
		case <-time.After(time.Millisecond):
		}
	}

	src.Set(10, 100)
	for {
		if ready, _ := health.last(); ready {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never reported recovery")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}

func TestMonitorRunsInitialTickBeforeFirstInterval(t *testing.T) {
	eng := newTestEngine(sampler.NewFixed(10, 100), nil, nil)
	health := &recordingHealth{}
	mon := NewMonitor(eng, time.Hour, health, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, n := health.last(); n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never ran its initial evaluation")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
