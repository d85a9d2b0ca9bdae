package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-chaos/internal/api"
	"github.com/miradorstack/mirador-chaos/internal/audit"
	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/engine"
	"github.com/miradorstack/mirador-chaos/internal/marker"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/sampler"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting chaos engine",
		slog.String("address", cfg.Server.Address),
		slog.String("grpc_address", cfg.Server.GRPCAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}
	sink := metrics.NewSink()

	var store marker.Store = marker.NoopStore{}
	switch cfg.Marker.Mode {
	case config.MarkerModeFile:
		fileStore, err := marker.NewFileStore(cfg.Marker.Path)
		if err != nil {
			logger.Error("failed to open marker file", slog.Any("error", err))
			os.Exit(1)
		}
		store = fileStore
	case config.MarkerModeValkey:
		valkeyStore, err := marker.NewValkeyStore(cfg.Marker.Valkey, cfg.Marker.Key)
		if err != nil {
			logger.Warn("valkey marker store unavailable, crash windows will be unmeasurable",
				slog.Any("error", err))
		} else {
			store = valkeyStore
		}
	}
	defer store.Close()

	var src engine.ResourceSampler
	procSampler, err := sampler.NewProc()
	if err != nil {
		logger.Warn("procfs unavailable, resource thresholds disabled", slog.Any("error", err))
		src = sampler.NewFixed(0, 0)
	} else {
		src = procSampler
	}

	auditLog := audit.New(os.Stdout)
	eng := engine.New(cfg.Readiness, cfg.Chaos, src, sink, store, auditLog, logger)
	injector := chaos.NewInjector(cfg.Chaos, eng, sink, auditLog, logger)
	defer injector.Close()

	httpServer := api.NewServer(cfg.Server, api.NewHandlers(eng, injector, logger),
		eng, sink, prometheus.DefaultGatherer, logger)
	grpcServer, err := api.NewGRPCServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Startup(ctx)

	monitor := engine.NewMonitor(eng, cfg.Readiness.ProbeInterval, grpcServer, logger)
	go monitor.Run(ctx)

	go func() {
		if serveErr := httpServer.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()
	go func() {
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("chaos engine stopped")
}
