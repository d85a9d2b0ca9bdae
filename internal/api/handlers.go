package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/engine"
)

// Handlers exposes the chaos engine over HTTP: health and readiness probes,
// the status snapshot, and the fault injection triggers.
type Handlers struct {
	engine   *engine.Engine
	injector *chaos.Injector
	logger   *slog.Logger
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(eng *engine.Engine, injector *chaos.Injector, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: eng, injector: injector, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("encode response failed", slog.Any("error", err))
	}
}

// writeError mirrors the probe contract: failures carry a detail string.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// Health answers the liveness probe. It never consults readiness: a process
// that can answer is alive.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if !h.engine.IsLive() {
		writeError(w, http.StatusServiceUnavailable, "not live")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready answers the readiness probe with a fresh evaluation.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.engine.CheckReadiness(r.Context())
	if !state.IsReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"detail": fmt.Sprintf("not ready: %s", state.Reason),
			"reason": state.Reason,
			"since":  state.Since,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Status returns the full engine snapshot: readiness, latency window,
// resource usage, guardrail state, and open failure episodes.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot(r.Context()))
}

// LoadCPU triggers a CPU saturation burst. Accepts optional duration and
// workers query parameters; durations parse as bare seconds or Go syntax.
func (h *Handlers) LoadCPU(w http.ResponseWriter, r *http.Request) {
	duration, err := parseDurationParam(r, "duration", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	workers, err := parseIntParam(r, "workers", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	effective, effectiveWorkers, err := h.injector.BurnCPU(duration, workers)
	if err != nil {
		h.writeInjectionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":           "cpu load started",
		"duration_seconds": effective.Seconds(),
		"workers":          effectiveWorkers,
	})
}

// LoadMemory pins memory. Accepts optional mb and hold query parameters.
func (h *Handlers) LoadMemory(w http.ResponseWriter, r *http.Request) {
	megabytes, err := parseIntParam(r, "mb", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hold, err := parseDurationParam(r, "hold", -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	effective, err := h.injector.LeakMemory(megabytes, hold)
	if err != nil {
		h.writeInjectionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "memory load started",
		"megabytes": effective,
	})
}

// Crash schedules process termination after an optional delay, default half a
// second so this response can flush first.
func (h *Handlers) Crash(w http.ResponseWriter, r *http.Request) {
	delay, err := parseDurationParam(r, "delay", 500*time.Millisecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.injector.Crash(r.Context(), delay); err != nil {
		h.writeInjectionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "crashing",
		"delay_seconds": delay.Seconds(),
	})
}

// writeInjectionError maps guardrail rejections to 429 and everything else to
// an internal error.
func (h *Handlers) writeInjectionError(w http.ResponseWriter, err error) {
	var rej *engine.RejectionError
	if errors.As(err, &rej) {
		if rej.RetryAfter > 0 {
			seconds := int(rej.RetryAfter.Round(time.Second).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
		writeError(w, http.StatusTooManyRequests, rej.Error())
		return
	}
	h.logger.Error("fault injection failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "fault injection failed")
}

// parseDurationParam reads a duration query parameter, accepting bare seconds
// ("10") or Go duration syntax ("10s", "500ms"). Missing values return the
// fallback.
func parseDurationParam(r *http.Request, name string, fallback time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%s must not be negative", name)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", name, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func parseIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", name, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return n, nil
}
