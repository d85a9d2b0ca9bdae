package engine

import (
	"context"
	"log/slog"
	"time"
)

// HealthSetter mirrors the readiness decision into an external health
// surface, typically the gRPC health service.
type HealthSetter interface {
	SetReady(ready bool)
}

// Monitor periodically re-evaluates readiness so flips are observed even
// when no probe traffic arrives. Each tick drives the same path as an HTTP
// readiness check.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	health   HealthSetter
	logger   *slog.Logger
}

// NewMonitor builds a monitor ticking at the given interval. A nil health
// setter is allowed.
func NewMonitor(engine *Engine, interval time.Duration, health HealthSetter, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		engine:   engine,
		interval: interval,
		health:   health,
		logger:   logger,
	}
}

// Run evaluates readiness once immediately, then on every tick until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("readiness monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	state := m.engine.CheckReadiness(ctx)
	if m.health != nil {
		m.health.SetReady(state.IsReady)
	}
}
