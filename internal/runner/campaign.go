package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// CampaignConfig holds the parameters for one fault-injection campaign.
type CampaignConfig struct {
	Class           models.FailureClass
	Iterations      int
	DegradeTimeout  time.Duration
	RecoveryTimeout time.Duration
	PollInterval    time.Duration
	Cooldown        time.Duration
	FlushRate       rate.Limit

	CPUDuration time.Duration
	CPUWorkers  int
	MemoryMB    int
	MemoryHold  time.Duration
	CrashDelay  time.Duration
}

func (c *CampaignConfig) applyDefaults() {
	if c.Iterations <= 0 {
		c.Iterations = 1
	}
	if c.DegradeTimeout <= 0 {
		c.DegradeTimeout = 30 * time.Second
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	if c.FlushRate <= 0 {
		c.FlushRate = 20
	}
}

// Validate rejects campaigns against classes that cannot be injected.
func (c *CampaignConfig) Validate() error {
	if !c.Class.Injectable() {
		return fmt.Errorf("failure class %q cannot be injected", c.Class)
	}
	return nil
}

// IterationResult captures the outcome of one trigger-degrade-recover cycle.
type IterationResult struct {
	Iteration int
	Degraded  bool
	Recovered bool
	Detection time.Duration
	Recovery  time.Duration
	Err       error
}

// Report aggregates a campaign's iterations.
type Report struct {
	Class      models.FailureClass
	Iterations []IterationResult
}

// Summary reduces the report to headline numbers.
type Summary struct {
	Iterations  int
	Recovered   int
	Failed      int
	AvgRecovery time.Duration
}

// Summary computes the aggregate view over all iterations.
func (r Report) Summary() Summary {
	s := Summary{Iterations: len(r.Iterations)}
	var total time.Duration
	for _, it := range r.Iterations {
		if it.Recovered {
			s.Recovered++
			total += it.Recovery
		} else {
			s.Failed++
		}
	}
	if s.Recovered > 0 {
		s.AvgRecovery = total / time.Duration(s.Recovered)
	}
	return s
}

// Write renders the report as a human-readable table.
func (r Report) Write(w io.Writer) {
	fmt.Fprintf(w, "campaign: class=%s iterations=%d\n", r.Class, len(r.Iterations))
	for _, it := range r.Iterations {
		status := "recovered"
		switch {
		case it.Err != nil:
			status = fmt.Sprintf("error: %v", it.Err)
		case !it.Degraded:
			status = "never degraded"
		case !it.Recovered:
			status = "never recovered"
		}
		fmt.Fprintf(w, "  #%d  detect=%-8s recover=%-8s %s\n",
			it.Iteration,
			it.Detection.Round(time.Millisecond),
			it.Recovery.Round(time.Millisecond),
			status)
	}
	s := r.Summary()
	fmt.Fprintf(w, "summary: recovered=%d failed=%d avg_recovery=%s\n",
		s.Recovered, s.Failed, s.AvgRecovery.Round(time.Millisecond))
}

// Campaign drives repeated fault injections against a target and records how
// long each degradation and recovery took from the outside.
type Campaign struct {
	client *Client
	cfg    CampaignConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCampaign builds a campaign. The config is validated by Run.
func NewCampaign(client *Client, cfg CampaignConfig, logger *slog.Logger) *Campaign {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Campaign{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes the configured number of iterations, stopping early when the
// context is cancelled. Individual iteration failures are recorded in the
// report, not returned.
func (c *Campaign) Run(ctx context.Context) (Report, error) {
	if err := c.cfg.Validate(); err != nil {
		return Report{}, err
	}

	report := Report{Class: c.cfg.Class}
	for i := 1; i <= c.cfg.Iterations; i++ {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		c.logger.Info("campaign iteration starting",
			slog.Int("iteration", i),
			slog.String("class", string(c.cfg.Class)))
		report.Iterations = append(report.Iterations, c.iterate(ctx, i))

		if i < c.cfg.Iterations {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(c.cfg.Cooldown):
			}
		}
	}
	return report, nil
}

func (c *Campaign) iterate(ctx context.Context, iteration int) IterationResult {
	result := IterationResult{Iteration: iteration}

	if err := c.trigger(ctx); err != nil {
		result.Err = fmt.Errorf("trigger: %w", err)
		return result
	}
	triggeredAt := c.now()

	degradedAt, err := c.waitForReadiness(ctx, c.cfg.DegradeTimeout, false)
	if err != nil {
		result.Err = fmt.Errorf("waiting for degradation: %w", err)
		return result
	}
	result.Degraded = true
	result.Detection = degradedAt.Sub(triggeredAt)
	c.logger.Info("target degraded", slog.Duration("after", result.Detection))

	recoveredAt, err := c.recoverWithFlush(ctx)
	if err != nil {
		result.Err = fmt.Errorf("waiting for recovery: %w", err)
		return result
	}
	result.Recovered = true
	result.Recovery = recoveredAt.Sub(degradedAt)
	c.logger.Info("target recovered", slog.Duration("after", result.Recovery))
	return result
}

func (c *Campaign) trigger(ctx context.Context) error {
	switch c.cfg.Class {
	case models.ClassCPU:
		return c.client.TriggerCPU(ctx, c.cfg.CPUDuration, c.cfg.CPUWorkers)
	case models.ClassMemory:
		return c.client.TriggerMemory(ctx, c.cfg.MemoryMB, c.cfg.MemoryHold)
	case models.ClassCrash:
		return c.client.TriggerCrash(ctx, c.cfg.CrashDelay)
	default:
		return fmt.Errorf("failure class %q cannot be injected", c.cfg.Class)
	}
}

// recoverWithFlush polls readiness while a paced flusher keeps cheap requests
// flowing, so the target's rolling latency window drains instead of holding
// stale slow samples.
func (c *Campaign) recoverWithFlush(ctx context.Context) (time.Time, error) {
	g, gctx := errgroup.WithContext(ctx)

	var recoveredAt time.Time
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		at, err := c.waitForReadiness(gctx, c.cfg.RecoveryTimeout, true)
		if err != nil {
			return err
		}
		recoveredAt = at
		return nil
	})

	g.Go(func() error {
		limiter := rate.NewLimiter(c.cfg.FlushRate, 1)
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			default:
			}
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}
			// Errors are expected while the target is still degraded.
			_ = c.client.Health(gctx)
		}
	})

	if err := g.Wait(); err != nil {
		return time.Time{}, err
	}
	return recoveredAt, nil
}

// waitForReadiness polls /ready until it reports the wanted state. During a
// crash the probe connection drops entirely; that counts as not ready.
func (c *Campaign) waitForReadiness(ctx context.Context, timeout time.Duration, want bool) (time.Time, error) {
	deadline := c.now().Add(timeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ready, err := c.client.Ready(ctx)
		if err != nil && ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		observed := ready && err == nil
		if observed == want {
			return c.now(), nil
		}
		if c.now().After(deadline) {
			return time.Time{}, fmt.Errorf("readiness did not reach %v within %s", want, timeout)
		}
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
