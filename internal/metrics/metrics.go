package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names shared between the engine, the injector, and the HTTP layer.
// The scrape surface keeps the original flat names.
const (
	MetricHTTPRequestsTotal      = "http_requests_total"
	MetricPodRecoveryCount       = "pod_recovery_count"
	MetricChaosActionsTotal      = "chaos_actions_total"
	MetricChaosRejectionsTotal   = "chaos_rejections_total"
	MetricCrashUnmeasurableTotal = "crash_recovery_unmeasurable_total"

	MetricCPUStressActive   = "cpu_stress_active"
	MetricMemoryUsageBytes  = "memory_usage_bytes"
	MetricMemoryChunksCount = "memory_chunks_count"
	MetricPodReadyStatus    = "pod_ready_status"

	MetricDetectionSeconds      = "failure_to_readiness_failure_seconds"
	MetricRecoverySeconds       = "readiness_failure_to_recovery_seconds"
	MetricTotalRecoverySeconds  = "failure_onset_to_recovery_seconds"
	MetricCrashToStartupSeconds = "crash_to_startup_seconds"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "Total count of HTTP requests.",
		},
		[]string{"method", "endpoint"},
	)

	podRecoveryCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricPodRecoveryCount,
			Help: "Total count of pod recoveries (startup or readiness flip).",
		},
	)

	chaosActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricChaosActionsTotal,
			Help: "Total count of admitted fault injections, partitioned by failure class.",
		},
		[]string{"class"},
	)

	chaosRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricChaosRejectionsTotal,
			Help: "Total count of fault injections declined by the guardrail.",
		},
		[]string{"reason"},
	)

	crashUnmeasurableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricCrashUnmeasurableTotal,
			Help: "Startups where no persisted unhealthy marker existed, so the crash-to-startup interval could not be measured.",
		},
	)

	cpuStressActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricCPUStressActive,
			Help: "Whether CPU stress is currently active (1 for yes, 0 for no).",
		},
	)

	memoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricMemoryUsageBytes,
			Help: "Current memory usage in bytes.",
		},
	)

	memoryChunksCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricMemoryChunksCount,
			Help: "Number of allocated memory chunks.",
		},
	)

	podReadyStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricPodReadyStatus,
			Help: "Current readiness status (1 for ready, 0 for not ready).",
		},
	)

	detectionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricDetectionSeconds,
			Help:    "Time from fault onset to readiness probe failure. Measures detection latency.",
			Buckets: []float64{1, 2, 5, 10, 30, 60},
		},
		[]string{"class"},
	)

	recoverySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricRecoverySeconds,
			Help:    "Time from readiness failure to recovery. Measures self-healing speed.",
			Buckets: []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"class"},
	)

	totalRecoverySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricTotalRecoverySeconds,
			Help:    "Time from fault onset to recovered readiness. Measures total time to recovery.",
			Buckets: []float64{1, 5, 10, 30, 60, 120},
		},
		[]string{"class"},
	)

	crashToStartupSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricCrashToStartupSeconds,
			Help:    "Time from crash to application startup. Measures cold-start latency.",
			Buckets: []float64{5, 10, 30, 60, 120},
		},
	)
)

// Register attaches the chaos collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		httpRequestsTotal,
		podRecoveryCount,
		chaosActionsTotal,
		chaosRejectionsTotal,
		crashUnmeasurableTotal,
		cpuStressActive,
		memoryUsageBytes,
		memoryChunksCount,
		podReadyStatus,
		detectionSeconds,
		recoverySeconds,
		totalRecoverySeconds,
		crashToStartupSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Sink routes engine observations onto the registered collectors. Observations
// against unknown metric names are dropped.
type Sink struct{}

// NewSink returns a Sink backed by the package collectors.
func NewSink() Sink { return Sink{} }

// IncrementCounter bumps the named counter.
func (Sink) IncrementCounter(name string, labels map[string]string) {
	switch name {
	case MetricHTTPRequestsTotal:
		httpRequestsTotal.WithLabelValues(labels["method"], labels["endpoint"]).Inc()
	case MetricPodRecoveryCount:
		podRecoveryCount.Inc()
	case MetricChaosActionsTotal:
		chaosActionsTotal.WithLabelValues(labels["class"]).Inc()
	case MetricChaosRejectionsTotal:
		chaosRejectionsTotal.WithLabelValues(labels["reason"]).Inc()
	case MetricCrashUnmeasurableTotal:
		crashUnmeasurableTotal.Inc()
	}
}

// ObserveHistogram records a duration observation in seconds.
func (Sink) ObserveHistogram(name string, labels map[string]string, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	switch name {
	case MetricDetectionSeconds:
		detectionSeconds.WithLabelValues(labels["class"]).Observe(seconds)
	case MetricRecoverySeconds:
		recoverySeconds.WithLabelValues(labels["class"]).Observe(seconds)
	case MetricTotalRecoverySeconds:
		totalRecoverySeconds.WithLabelValues(labels["class"]).Observe(seconds)
	case MetricCrashToStartupSeconds:
		crashToStartupSeconds.Observe(seconds)
	}
}

// SetGauge sets the named gauge to the supplied value.
func (Sink) SetGauge(name string, value float64) {
	switch name {
	case MetricCPUStressActive:
		cpuStressActive.Set(value)
	case MetricMemoryUsageBytes:
		memoryUsageBytes.Set(value)
	case MetricMemoryChunksCount:
		memoryChunksCount.Set(value)
	case MetricPodReadyStatus:
		podReadyStatus.Set(value)
	}
}
