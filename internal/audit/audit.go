package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// Event types emitted on the audit stream.
const (
	EventChaosStart         = "CHAOS_START"
	EventChaosStop          = "CHAOS_STOP"
	EventReadinessDegraded  = "READINESS_DEGRADED"
	EventReadinessRecovered = "READINESS_RECOVERED"
	EventPodRestart         = "POD_RESTART"
	EventRecoveryState      = "RECOVERY_STATE"
	EventCrashUnmeasurable  = "CRASH_WINDOW_UNMEASURABLE"
)

// Logger emits structured lifecycle events for external log pipelines. Events
// are always JSON regardless of the service log format, and every event
// carries the pod identity.
type Logger struct {
	logger *slog.Logger
	podID  string
}

// New constructs an audit logger writing JSON events to w.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(w, nil)),
		podID:  podID(),
	}
}

func podID() string {
	if id := os.Getenv("HOSTNAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

func (l *Logger) event(eventType string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	base := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("pod_id", l.podID),
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, eventType, append(base, attrs...)...)
}

// ChaosStart records an admitted fault injection with its parameters.
func (l *Logger) ChaosStart(class models.FailureClass, params map[string]any) {
	attrs := []slog.Attr{slog.String("failure_class", string(class))}
	for key, value := range params {
		attrs = append(attrs, slog.Any(key, value))
	}
	l.event(EventChaosStart, attrs...)
}

// ChaosStop records completion of an injected fault.
func (l *Logger) ChaosStop(class models.FailureClass) {
	l.event(EventChaosStop, slog.String("failure_class", string(class)))
}

// ReadinessDegraded records the readiness signal flipping to unready.
func (l *Logger) ReadinessDegraded(reason models.ReadinessReason) {
	l.event(EventReadinessDegraded, slog.String("reason", string(reason)))
}

// ReadinessRecovered records the readiness signal flipping back to ready.
func (l *Logger) ReadinessRecovered() {
	l.event(EventReadinessRecovered)
}

// PodRestart records process startup.
func (l *Logger) PodRestart() {
	l.event(EventPodRestart)
}

// RecoveryTransition records a recovery state machine transition for a class.
func (l *Logger) RecoveryTransition(class models.FailureClass, from, to string, at time.Time, episodeID string) {
	l.event(EventRecoveryState,
		slog.String("failure_class", string(class)),
		slog.String("from_state", from),
		slog.String("to_state", to),
		slog.Time("timestamp", at),
		slog.String("episode_id", episodeID),
	)
}

// CrashWindowUnmeasurable records a startup with no persisted unhealthy
// marker, where the crash-to-startup interval cannot be measured.
func (l *Logger) CrashWindowUnmeasurable() {
	l.event(EventCrashUnmeasurable)
}
