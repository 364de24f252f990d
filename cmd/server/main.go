package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/app"
	"github.com/kevin07696/payment-reconciler/internal/config"
	"github.com/kevin07696/payment-reconciler/internal/handlers/webhook"
	"github.com/kevin07696/payment-reconciler/pkg/logging"
	"github.com/kevin07696/payment-reconciler/pkg/middleware"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
	"github.com/kevin07696/payment-reconciler/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting payment reconciler",
		zap.String("store", cfg.Store.Backend),
		zap.String("secret_manager", cfg.Secrets.Provider),
		zap.String("capture_method", cfg.Reconciliation.CaptureMethod),
	)

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	deps, err := app.Build(startupCtx, cfg, logger)
	startupCancel()
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}

	// Components shut down in reverse registration order
	mgr := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	mgr.RegisterCloser("store", deps)

	opsServer := observability.NewOpsServer(
		net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort)),
		observability.NewHealthChecker(deps.HealthChecks),
		logger.Named("ops"),
	)
	opsServer.Start()
	mgr.Register("ops_server", opsServer.Shutdown)
	logger.Info("Ops server listening", zap.Int("port", cfg.Server.MetricsPort))

	redriveWorker := shutdown.NewPeriodicWorker("redriver", cfg.Reconciliation.RedriveInterval, logger)
	deps.Redriver.Start(redriveWorker)
	mgr.Register("redriver", redriveWorker.Shutdown)

	tracker := shutdown.NewInFlightTracker("webhooks", logger)
	mgr.Register("webhook_requests", tracker.Shutdown)

	rateLimiter := middleware.NewRateLimiter(cfg.Server.WebhookRateLimit, cfg.Server.WebhookBurst, logger)
	mgr.RegisterNoErr("rate_limiter", rateLimiter.Shutdown)

	handler := webhook.NewStripeHandler(deps.Verifier, deps.Orchestrator, tracker, deps.Timeouts, logger.Named("webhook"))

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WebhookPath,
		observability.HTTPMiddleware("webhook_stripe", rateLimiter.Middleware(handler)))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           middleware.Recovery(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      deps.Timeouts.WebhookHandler + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	mgr.Register("webhook_server", server.Shutdown)
	// registered last so readiness is withdrawn before anything stops
	mgr.RegisterNoErr("readiness", opsServer.Drain)

	go func() {
		logger.Info("Webhook server listening",
			zap.String("addr", server.Addr),
			zap.String("path", cfg.Server.WebhookPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Webhook server failed", zap.Error(err))
			cancel()
		}
	}()

	return mgr.WaitForShutdown(ctx)
}
