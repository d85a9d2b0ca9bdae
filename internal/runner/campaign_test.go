package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// fakeTarget simulates a chaos engine that degrades on trigger and recovers
// after a fixed number of unready polls.
type fakeTarget struct {
	mu            sync.Mutex
	degraded      bool
	unreadyPolls  int
	pollsToHeal   int
	healthFlushes int
	triggers      int
}

func (f *fakeTarget) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /load/cpu", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.degraded = true
		f.unreadyPolls = 0
		f.triggers++
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.degraded {
			w.WriteHeader(http.StatusOK)
			return
		}
		f.unreadyPolls++
		if f.unreadyPolls > f.pollsToHeal {
			f.degraded = false
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.healthFlushes++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestCampaignRecordsDegradationAndRecovery(t *testing.T) {
	target := &fakeTarget{pollsToHeal: 3}
	srv := httptest.NewServer(target.handler())
	defer srv.Close()

	campaign := NewCampaign(NewClient(srv.URL, 5*time.Second), CampaignConfig{
		Class:           models.ClassCPU,
		Iterations:      2,
		DegradeTimeout:  5 * time.Second,
		RecoveryTimeout: 5 * time.Second,
		PollInterval:    10 * time.Millisecond,
		Cooldown:        10 * time.Millisecond,
		FlushRate:       100,
	}, nil)

	report, err := campaign.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Iterations) != 2 {
		t.Fatalf("expected 2 iterations, got %d", len(report.Iterations))
	}
	for _, it := range report.Iterations {
		if it.Err != nil {
			t.Fatalf("iteration %d failed: %v", it.Iteration, it.Err)
		}
		if !it.Degraded || !it.Recovered {
			t.Fatalf("iteration %d incomplete: %+v", it.Iteration, it)
		}
		if it.Recovery <= 0 {
			t.Fatalf("iteration %d missing recovery duration", it.Iteration)
		}
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.triggers != 2 {
		t.Fatalf("expected 2 triggers, got %d", target.triggers)
	}
	if target.healthFlushes == 0 {
		t.Fatal("expected the flusher to issue health requests during recovery")
	}
}

func TestCampaignReportsDegradeTimeout(t *testing.T) {
	// Target accepts triggers but never degrades.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /load/cpu", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	campaign := NewCampaign(NewClient(srv.URL, time.Second), CampaignConfig{
		Class:          models.ClassCPU,
		Iterations:     1,
		DegradeTimeout: 50 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, nil)

	report, err := campaign.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Iterations) != 1 {
		t.Fatalf("expected 1 iteration, got %d", len(report.Iterations))
	}
	it := report.Iterations[0]
	if it.Degraded || it.Err == nil {
		t.Fatalf("expected degrade timeout recorded, got %+v", it)
	}

	s := report.Summary()
	if s.Failed != 1 || s.Recovered != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestCampaignRejectsDetectOnlyClass(t *testing.T) {
	campaign := NewCampaign(NewClient("http://chaos-engine:8000", time.Second), CampaignConfig{
		Class: models.ClassLatency,
	}, nil)
	if _, err := campaign.Run(context.Background()); err == nil {
		t.Fatal("expected latency class to be rejected")
	}
}

func TestCampaignStopsOnContextCancel(t *testing.T) {
	target := &fakeTarget{pollsToHeal: 1000}
	srv := httptest.NewServer(target.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	campaign := NewCampaign(NewClient(srv.URL, time.Second), CampaignConfig{
		Class:           models.ClassCPU,
		Iterations:      10,
		DegradeTimeout:  5 * time.Second,
		RecoveryTimeout: time.Minute,
		PollInterval:    10 * time.Millisecond,
	}, nil)

	start := time.Now()
	_, err := campaign.Run(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("campaign did not stop promptly on cancel")
	}
}
