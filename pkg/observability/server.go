package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OpsServer serves the operational endpoints next to the webhook listener:
// /metrics for Prometheus, /health with per-dependency detail, /live and
// /ready for container probes.
//
// Readiness fails while any dependency check fails and, permanently, once
// Drain is called, so the load balancer stops routing webhooks before the
// listener closes.
type OpsServer struct {
	server   *http.Server
	health   *HealthChecker
	draining atomic.Bool
	logger   *zap.Logger
}

// NewOpsServer builds the server; a nil health checker reports no dependencies
func NewOpsServer(addr string, health *HealthChecker, logger *zap.Logger) *OpsServer {
	if health == nil {
		health = NewHealthChecker(nil)
	}
	s := &OpsServer{health: health, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.HealthHandler())
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", s.ready)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Handler exposes the routes without a listener
func (s *OpsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start listens in the background
func (s *OpsServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Ops server error", zap.String("addr", s.server.Addr), zap.Error(err))
		}
	}()
}

// Drain makes /ready fail from now on
func (s *OpsServer) Drain() {
	if s.draining.CompareAndSwap(false, true) {
		s.logger.Info("Readiness withdrawn, draining webhook traffic")
	}
}

// Shutdown stops the listener
func (s *OpsServer) Shutdown(ctx context.Context) error {
	s.Drain()
	return s.server.Shutdown(ctx)
}

func (s *OpsServer) ready(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	if status := s.health.Check(r.Context()); status.Status != "healthy" {
		http.Error(w, "dependencies unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
