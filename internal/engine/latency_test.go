package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

func TestLatencyTrackerEvictsOldestOnOverflow(t *testing.T) {
	tracker := NewLatencyTracker(3, 1, 0)
	for _, ms := range []int{100, 200, 300, 400} {
		tracker.Record(time.Duration(ms) * time.Millisecond)
	}

	if tracker.Count() != 3 {
		t.Fatalf("expected window of 3, got %d", tracker.Count())
	}
	// The evicted 100ms sample must not contribute: max is 400, min is 200.
	if got := tracker.Percentile(100); got != 400*time.Millisecond {
		t.Fatalf("expected p100 400ms, got %v", got)
	}
	if got := tracker.Percentile(0); got != 200*time.Millisecond {
		t.Fatalf("expected p0 200ms, got %v", got)
	}
}

func TestLatencyTrackerMinSamplesSentinel(t *testing.T) {
	tracker := NewLatencyTracker(10, 5, 0)
	for i := 0; i < 4; i++ {
		tracker.Record(50 * time.Millisecond)
	}
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("expected zero sentinel below min samples, got %v", got)
	}

	tracker.Record(50 * time.Millisecond)
	if got := tracker.Percentile(95); got != 50*time.Millisecond {
		t.Fatalf("expected 50ms once min samples reached, got %v", got)
	}
}

func TestLatencyTrackerPercentileOrdering(t *testing.T) {
	tracker := NewLatencyTracker(10, 1, 0)
	for _, ms := range []int{10, 20, 30, 40, 50} {
		tracker.Record(time.Duration(ms) * time.Millisecond)
	}
	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
}

func TestLatencyTrackerAgeEviction(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	tracker := NewLatencyTracker(10, 1, time.Second)
	tracker.now = func() time.Time { return current }

	tracker.Record(700 * time.Millisecond)
	current = current.Add(2 * time.Second)
	tracker.Record(100 * time.Millisecond)

	if tracker.Count() != 1 {
		t.Fatalf("expected expired sample evicted, count=%d", tracker.Count())
	}
	if got := tracker.Percentile(100); got != 100*time.Millisecond {
		t.Fatalf("expected only the fresh sample, got %v", got)
	}
}

func TestLatencyTrackerSnapshot(t *testing.T) {
	tracker := NewLatencyTracker(10, 1, 0)
	tracker.Record(30 * time.Millisecond)
	snap := tracker.Snapshot()
	want := models.LatencySnapshot{Count: 1, P95: 30 * time.Millisecond}
	if snap != want {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestLatencyTrackerConcurrentAccess(t *testing.T) {
	tracker := NewLatencyTracker(64, 1, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tracker.Record(time.Duration(j) * time.Microsecond)
				_ = tracker.Percentile(95)
			}
		}()
	}
	wg.Wait()

	if count := tracker.Count(); count > 64 {
		t.Fatalf("window exceeded capacity: %d", count)
	}
}
