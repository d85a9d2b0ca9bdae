package chaos

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/audit"
	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/engine"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

const (
	chunkSize = 1 << 20 // 1 MB per leaked chunk
	pageSize  = 4096
)

// Injector performs deliberate fault injection against the running process:
// CPU saturation, memory pressure, and hard crashes. Every action passes
// through the engine's guardrail before it runs, and every admitted action
// marks failure onset so the recovery timer can attribute the episode.
type Injector struct {
	cfg      config.ChaosConfig
	engine   *engine.Engine
	sink     engine.Sink
	auditLog *audit.Logger
	logger   *slog.Logger

	// Exit terminates the process after a crash injection's delay elapses.
	// Tests replace it to observe the exit without dying.
	Exit func(code int)

	mu     sync.Mutex
	leaked [][]byte
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewInjector constructs an Injector. A nil sink, audit logger, or logger
// falls back to a no-op implementation.
func NewInjector(cfg config.ChaosConfig, eng *engine.Engine, sink engine.Sink, auditLog *audit.Logger, logger *slog.Logger) *Injector {
	if sink == nil {
		sink = engine.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		cfg:      cfg,
		engine:   eng,
		sink:     sink,
		auditLog: auditLog,
		logger:   logger,
		Exit:     os.Exit,
		stop:     make(chan struct{}),
	}
}

// admit asks the guardrail for a slot, counting rejections before returning
// them to the caller.
func (i *Injector) admit(class models.FailureClass) (*engine.Admission, error) {
	adm, err := i.engine.Guardrail().TryAdmit(class)
	if err != nil {
		var rej *engine.RejectionError
		if errors.As(err, &rej) {
			i.sink.IncrementCounter(metrics.MetricChaosRejectionsTotal,
				map[string]string{"reason": string(rej.Reason)})
			i.logger.Warn("chaos injection rejected",
				slog.String("class", string(class)),
				slog.String("reason", string(rej.Reason)))
		}
		return nil, err
	}
	i.sink.IncrementCounter(metrics.MetricChaosActionsTotal,
		map[string]string{"class": string(class)})
	i.engine.MarkOnset(class)
	return adm, nil
}

// BurnCPU saturates the given number of workers with busy loops for the given
// duration. Zero values fall back to the configured defaults. The burn runs
// asynchronously; the effective duration and worker count are returned.
func (i *Injector) BurnCPU(duration time.Duration, workers int) (time.Duration, int, error) {
	if duration <= 0 {
		duration = i.cfg.CPULoadDuration
	}
	if workers <= 0 {
		workers = i.cfg.CPULoadWorkers
	}

	adm, err := i.admit(models.ClassCPU)
	if err != nil {
		return 0, 0, err
	}

	i.auditLog.ChaosStart(models.ClassCPU, map[string]any{
		"duration_seconds": duration.Seconds(),
		"workers":          workers,
	})
	i.logger.Info("cpu stress starting",
		slog.Duration("duration", duration),
		slog.Int("workers", workers))
	i.sink.SetGauge(metrics.MetricCPUStressActive, 1)

	done := make(chan struct{})
	var spinners sync.WaitGroup
	for w := 0; w < workers; w++ {
		spinners.Add(1)
		go func() {
			defer spinners.Done()
			spin(done)
		}()
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer adm.Release()

		select {
		case <-time.After(duration):
		case <-i.stop:
		}
		close(done)
		spinners.Wait()

		i.sink.SetGauge(metrics.MetricCPUStressActive, 0)
		i.auditLog.ChaosStop(models.ClassCPU)
		i.logger.Info("cpu stress finished")
	}()

	return duration, workers, nil
}

// spin busy-loops until the channel closes, checking periodically so the loop
// stays preemptible on older runtimes.
func spin(done <-chan struct{}) {
	x := 0.0001
	for n := 0; ; n++ {
		x += math.Sqrt(x)
		if n%1024 == 0 {
			select {
			case <-done:
				return
			default:
			}
		}
	}
}

// LeakMemory allocates and pins the given number of megabytes. Each chunk is
// touched page by page so the pages are actually resident, not just reserved.
// When hold is positive the chunks are freed after it elapses; otherwise they
// stay pinned until Close. Returns the effective megabytes allocated.
func (i *Injector) LeakMemory(megabytes int, hold time.Duration) (int, error) {
	if megabytes <= 0 {
		megabytes = i.cfg.MemoryMB
	}
	if hold < 0 {
		hold = i.cfg.MemoryHold
	}

	adm, err := i.admit(models.ClassMemory)
	if err != nil {
		return 0, err
	}

	i.auditLog.ChaosStart(models.ClassMemory, map[string]any{
		"megabytes":    megabytes,
		"hold_seconds": hold.Seconds(),
	})
	i.logger.Info("memory pressure starting",
		slog.Int("megabytes", megabytes),
		slog.Duration("hold", hold))

	chunks := make([][]byte, 0, megabytes)
	for c := 0; c < megabytes; c++ {
		chunk := make([]byte, chunkSize)
		for p := 0; p < len(chunk); p += pageSize {
			chunk[p] = 1
		}
		chunks = append(chunks, chunk)
	}

	i.mu.Lock()
	i.leaked = append(i.leaked, chunks...)
	i.sink.SetGauge(metrics.MetricMemoryChunksCount, float64(len(i.leaked)))
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer adm.Release()

		if hold > 0 {
			select {
			case <-time.After(hold):
				i.freeMemory(len(chunks))
			case <-i.stop:
			}
		}
		i.auditLog.ChaosStop(models.ClassMemory)
	}()

	return megabytes, nil
}

// freeMemory drops up to n chunks from the pinned set.
func (i *Injector) freeMemory(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if n > len(i.leaked) {
		n = len(i.leaked)
	}
	for c := 0; c < n; c++ {
		i.leaked[c] = nil
	}
	i.leaked = i.leaked[n:]
	i.sink.SetGauge(metrics.MetricMemoryChunksCount, float64(len(i.leaked)))
	i.logger.Info("memory pressure released", slog.Int("freed_megabytes", n))
}

// LeakedChunks reports the number of pinned chunks.
func (i *Injector) LeakedChunks() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.leaked)
}

// Crash persists the unhealthy marker and terminates the process after the
// given delay. The delay gives the HTTP layer time to flush the accepted
// response before the process dies.
func (i *Injector) Crash(ctx context.Context, delay time.Duration) error {
	adm, err := i.admit(models.ClassCrash)
	if err != nil {
		return err
	}

	i.auditLog.ChaosStart(models.ClassCrash, map[string]any{
		"delay_seconds": delay.Seconds(),
	})
	i.logger.Warn("crash injection scheduled", slog.Duration("delay", delay))

	if err := i.engine.PersistUnhealthy(ctx); err != nil {
		i.logger.Warn("persist unhealthy marker before crash failed", slog.Any("error", err))
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer adm.Release()

		select {
		case <-time.After(delay):
			i.Exit(1)
		case <-i.stop:
		}
	}()

	return nil
}

// Close stops all running injections and frees pinned memory. Safe to call
// once; further injections after Close still run but are no longer stoppable
// through the injector.
func (i *Injector) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()

	close(i.stop)
	i.wg.Wait()

	i.mu.Lock()
	pinned := len(i.leaked)
	i.mu.Unlock()
	if pinned > 0 {
		i.freeMemory(pinned)
	}
}
