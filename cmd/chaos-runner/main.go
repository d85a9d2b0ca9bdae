package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/runner"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

var (
	target   string
	timeout  time.Duration
	logLevel string

	faultClass      string
	iterations      int
	degradeTimeout  time.Duration
	recoveryTimeout time.Duration
	pollInterval    time.Duration
	cooldown        time.Duration
	flushRate       float64
	cpuDuration     time.Duration
	cpuWorkers      int
	memoryMB        int
	memoryHold      time.Duration
	crashDelay      time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chaos-runner",
		Short: "Drive fault-injection campaigns against a chaos engine and score its recovery",
	}
	rootCmd.PersistentFlags().StringVar(&target, "target", "http://localhost:8000", "Base URL of the chaos engine")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-request timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a fault-injection campaign",
		RunE:  runCampaign,
	}
	runCmd.Flags().StringVar(&faultClass, "class", "cpu", "Failure class to inject: cpu, memory, crash")
	runCmd.Flags().IntVar(&iterations, "iterations", 3, "Number of trigger-recover cycles")
	runCmd.Flags().DurationVar(&degradeTimeout, "degrade-timeout", 30*time.Second, "Max wait for readiness to degrade")
	runCmd.Flags().DurationVar(&recoveryTimeout, "recovery-timeout", 2*time.Minute, "Max wait for readiness to recover")
	runCmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "Readiness poll interval")
	runCmd.Flags().DurationVar(&cooldown, "cooldown", 10*time.Second, "Pause between iterations")
	runCmd.Flags().Float64Var(&flushRate, "flush-rate", 20, "Fast requests per second during recovery wait")
	runCmd.Flags().DurationVar(&cpuDuration, "cpu-duration", 0, "CPU burn duration (target default when zero)")
	runCmd.Flags().IntVar(&cpuWorkers, "cpu-workers", 0, "CPU burn workers (target default when zero)")
	runCmd.Flags().IntVar(&memoryMB, "memory-mb", 0, "Megabytes to pin (target default when zero)")
	runCmd.Flags().DurationVar(&memoryHold, "memory-hold", 0, "How long the target holds pinned memory")
	runCmd.Flags().DurationVar(&crashDelay, "crash-delay", 0, "Delay before the target exits (target default when zero)")

	scorecardCmd := &cobra.Command{
		Use:   "scorecard",
		Short: "Scrape the target's metrics and print the recovery scorecard",
		RunE:  runScorecard,
	}

	rootCmd.AddCommand(runCmd, scorecardCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCampaign(cmd *cobra.Command, args []string) error {
	class, err := models.ParseFailureClass(faultClass)
	if err != nil {
		return err
	}

	logger := utils.NewLogger(logLevel, false)
	campaign := runner.NewCampaign(runner.NewClient(target, timeout), runner.CampaignConfig{
		Class:           class,
		Iterations:      iterations,
		DegradeTimeout:  degradeTimeout,
		RecoveryTimeout: recoveryTimeout,
		PollInterval:    pollInterval,
		Cooldown:        cooldown,
		FlushRate:       rate.Limit(flushRate),
		CPUDuration:     cpuDuration,
		CPUWorkers:      cpuWorkers,
		MemoryMB:        memoryMB,
		MemoryHold:      memoryHold,
		CrashDelay:      crashDelay,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := campaign.Run(ctx)
	report.Write(os.Stdout)
	if err != nil {
		return err
	}

	if s := report.Summary(); s.Failed > 0 {
		return fmt.Errorf("%d of %d iterations did not recover", s.Failed, s.Iterations)
	}
	return nil
}

func runScorecard(cmd *cobra.Command, args []string) error {
	client := runner.NewClient(target, timeout)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exposition, err := client.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("scrape target metrics: %w", err)
	}
	card, err := runner.ParseScorecard(exposition)
	if err != nil {
		return err
	}
	card.Write(os.Stdout)

	if card.Verdict == runner.VerdictWarning {
		os.Exit(2)
	}
	return nil
}
