package reconciliation

import (
	"context"
	"time"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
	"github.com/kevin07696/payment-reconciler/pkg/shutdown"
)

// EventHandler reconciles one event
type EventHandler interface {
	Handle(ctx context.Context, event domain.PaymentEvent) domain.ReconciliationResult
}

// RedriveConfig controls inbox replays
type RedriveConfig struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	Timeouts    *resilience.TimeoutConfig
}

// DefaultRedriveConfig returns production redrive settings
func DefaultRedriveConfig() RedriveConfig {
	return RedriveConfig{
		Interval:    30 * time.Second,
		MaxAttempts: 8,
		BatchSize:   50,
		Timeouts:    resilience.DefaultTimeoutConfig(),
	}
}

// RedriveSummary counts the outcome of one pass
type RedriveSummary struct {
	Replayed  int
	Succeeded int
	Failed    int
}

// Redriver replays failed retryable inbox events through the orchestrator.
// Deliveries are acknowledged once the inbox holds them, so this is the only retry path.
type Redriver struct {
	inbox   ports.EventInbox
	handler EventHandler
	logger  ports.Logger
	cfg     RedriveConfig
}

// NewRedriver creates a redriver
func NewRedriver(inbox ports.EventInbox, handler EventHandler, logger ports.Logger, cfg RedriveConfig) *Redriver {
	if cfg.Timeouts == nil {
		cfg.Timeouts = resilience.DefaultTimeoutConfig()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Redriver{inbox: inbox, handler: handler, logger: logger, cfg: cfg}
}

// RunOnce replays one batch, oldest first
func (r *Redriver) RunOnce(ctx context.Context) (RedriveSummary, error) {
	var summary RedriveSummary

	events, err := r.inbox.ListRetryable(ctx, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		return summary, err
	}

	for _, e := range events {
		if ctx.Err() != nil {
			break
		}

		result := r.handler.Handle(ctx, e.Event)
		summary.Replayed++
		observability.RecordRedrive(string(result.Stage))

		if result.Failed() {
			summary.Failed++
			if e.Attempts+1 >= r.cfg.MaxAttempts && result.Retryable {
				r.logger.Error("Inbox event exhausted redrive attempts",
					ports.String("event_id", e.EventID),
					ports.Int("attempts", e.Attempts+1),
					ports.Err(result.Err),
				)
			}
			continue
		}
		summary.Succeeded++
	}

	if summary.Replayed > 0 {
		r.logger.Info("Redrive pass completed",
			ports.Int("replayed", summary.Replayed),
			ports.Int("succeeded", summary.Succeeded),
			ports.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

// Redrive replays a single inbox event regardless of its status. Operators
// use it for events that failed a business rule and were fixed by hand.
func (r *Redriver) Redrive(ctx context.Context, eventID string) (domain.ReconciliationResult, error) {
	e, err := r.inbox.Get(ctx, eventID)
	if err != nil {
		return domain.ReconciliationResult{}, err
	}

	result := r.handler.Handle(ctx, e.Event)
	observability.RecordRedrive(string(result.Stage))

	r.logger.Info("Inbox event redriven",
		ports.String("event_id", eventID),
		ports.String("stage", string(result.Stage)),
		ports.Bool("retryable", result.Retryable),
	)
	return result, nil
}

// Start runs RunOnce on the worker's ticker until the worker stops
func (r *Redriver) Start(worker *shutdown.PeriodicWorker) {
	worker.Start(func(ctx context.Context) {
		passCtx, cancel := r.cfg.Timeouts.RedriveContext(ctx)
		defer cancel()

		if _, err := r.RunOnce(passCtx); err != nil {
			r.logger.Error("Redrive pass failed", ports.Err(err))
		}
	})
}
