package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestSinkRoutesObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	sink := NewSink()
	sink.IncrementCounter(MetricHTTPRequestsTotal, map[string]string{"method": "GET", "endpoint": "/ready"})
	sink.IncrementCounter(MetricChaosActionsTotal, map[string]string{"class": "cpu"})
	sink.IncrementCounter(MetricPodRecoveryCount, nil)
	sink.ObserveHistogram(MetricRecoverySeconds, map[string]string{"class": "cpu"}, 4.2)
	sink.ObserveHistogram(MetricCrashToStartupSeconds, nil, 12)
	sink.SetGauge(MetricPodReadyStatus, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := map[string]bool{}
	for _, fam := range families {
		got[fam.GetName()] = true
	}
	for _, want := range []string{
		MetricHTTPRequestsTotal,
		MetricChaosActionsTotal,
		MetricPodRecoveryCount,
		MetricRecoverySeconds,
		MetricCrashToStartupSeconds,
		MetricPodReadyStatus,
	} {
		if !got[want] {
			t.Fatalf("expected %s in gathered output", want)
		}
	}
}

func TestSinkIgnoresUnknownNames(t *testing.T) {
	sink := NewSink()
	sink.IncrementCounter("no_such_counter", nil)
	sink.ObserveHistogram("no_such_histogram", nil, 1)
	sink.SetGauge("no_such_gauge", 1)
}
