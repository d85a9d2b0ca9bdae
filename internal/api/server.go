package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/engine"
)

// Server wraps the HTTP server carrying the probe, status, injection, and
// scrape endpoints.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the HTTP server from the handler set. The Prometheus
// gatherer backs the /metrics endpoint; pass prometheus.DefaultGatherer when
// collectors are registered on the default registry.
func NewServer(cfg config.ServerConfig, h *Handlers, eng *engine.Engine, sink engine.Sink, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if sink == nil {
		sink = engine.NopSink{}
	}

	router := mux.NewRouter()
	router.Use(latencyMiddleware(eng, sink))

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	router.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/load/cpu", h.LoadCPU).Methods(http.MethodPost)
	router.HandleFunc("/load/memory", h.LoadMemory).Methods(http.MethodPost)
	router.HandleFunc("/crash", h.Crash).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves HTTP until Shutdown is invoked. Returns nil on clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.cfg.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GracefulTimeout returns the configured graceful shutdown window.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
