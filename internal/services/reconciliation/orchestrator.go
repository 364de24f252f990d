// Package reconciliation drives gateway events through conversion, dispatch,
// ledger application and the order side effect.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/payment-reconciler/internal/converters"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/internal/services/order"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
)

// Dispatcher executes converted commands
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd *domain.ModifyPayment) (*domain.PaymentProviderModificationResponse, error)
}

// OrderTrigger runs the order side effect after a ledger apply
type OrderTrigger interface {
	MaybeCreateOrder(ctx context.Context, payment *domain.Payment, tx domain.Transaction) (order.Outcome, error)
}

// Orchestrator handles one gateway event at a time. Handle never returns an
// error: failures end in the failed stage and land in the inbox for redrive.
type Orchestrator struct {
	dispatcher Dispatcher
	trigger    OrderTrigger
	inbox      ports.EventInbox
	logger     ports.Logger
	timeouts   *resilience.TimeoutConfig
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(dispatcher Dispatcher, trigger OrderTrigger, inbox ports.EventInbox, logger ports.Logger, timeouts *resilience.TimeoutConfig) *Orchestrator {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		trigger:    trigger,
		inbox:      inbox,
		logger:     logger,
		timeouts:   timeouts,
	}
}

// Handle reconciles event and reports how far it got
func (o *Orchestrator) Handle(ctx context.Context, event domain.PaymentEvent) (result domain.ReconciliationResult) {
	start := time.Now()
	result = domain.ReconciliationResult{
		EventID:   event.EventID,
		PaymentID: event.PaymentID,
		Stage:     domain.StageReceived,
	}

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, event, &result, domain.WrapError(domain.ErrorCodeInternalError, "panic during reconciliation", fmt.Errorf("%v", r)))
		}
		observability.RecordEventReconciled(string(event.Type), string(result.Stage), metricOutcome(result), time.Since(start).Seconds())
	}()

	ctx, cancel := o.timeouts.EventContext(ctx)
	defer cancel()

	result.Unrecorded = !o.record(ctx, event)

	cmd, err := converters.ConvertEvent(event)
	if err != nil {
		o.fail(ctx, event, &result, err)
		return result
	}
	result.Stage = domain.StageConverted

	if cmd == nil {
		result.Noop = true
		o.finish(ctx, event, &result)
		return result
	}

	result.Stage = domain.StageDispatched
	resp, err := o.dispatcher.Dispatch(ctx, cmd)
	if resp != nil {
		// rejections still record a Failure transaction
		result.Stage = domain.StageApplied
		result.PaymentID = resp.Payment.ID
		result.Apply = resp.Apply
		observability.RecordLedgerTransaction(string(resp.Transaction.Type), string(resp.Transaction.State),
			string(resp.Apply), resp.Transaction.Amount.CurrencyCode, resp.Transaction.Amount.CentAmount)
	}
	if err != nil {
		o.fail(ctx, event, &result, err)
		return result
	}

	outcome, err := o.trigger.MaybeCreateOrder(ctx, resp.Payment, resp.Transaction)
	if err != nil {
		observability.RecordOrderCreation("failed")
		o.fail(ctx, event, &result, err)
		return result
	}
	result.Stage = domain.StageTriggerChecked
	if outcome == order.OutcomeCreated {
		observability.RecordOrderCreation("created")
		result.OrderCreated = true
	}

	o.finish(ctx, event, &result)
	return result
}

func (o *Orchestrator) finish(ctx context.Context, event domain.PaymentEvent, result *domain.ReconciliationResult) {
	result.Stage = domain.StageDone

	o.logger.Info("Payment event reconciled",
		ports.String("event_id", event.EventID),
		ports.String("event_type", string(event.Type)),
		ports.String("payment_id", result.PaymentID),
		ports.String("apply", string(result.Apply)),
		ports.Bool("noop", result.Noop),
		ports.Bool("order_created", result.OrderCreated),
	)

	if event.EventID == "" {
		return
	}
	ictx, cancel := o.inboxContext(ctx)
	defer cancel()
	if err := o.inbox.MarkDone(ictx, event.EventID); err != nil {
		o.logger.Warn("Failed to mark inbox event done",
			ports.String("event_id", event.EventID),
			ports.Err(err),
		)
	}
}

func (o *Orchestrator) fail(ctx context.Context, event domain.PaymentEvent, result *domain.ReconciliationResult, err error) {
	result.FailedAt = result.Stage
	result.Stage = domain.StageFailed
	result.Err = err
	result.Retryable = domain.IsRetryable(err)

	fields := append(eventFields(event),
		ports.String("payment_id", result.PaymentID),
		ports.String("failed_at", string(result.FailedAt)),
		ports.String("error_code", string(domain.GetErrorCode(err))),
		ports.Bool("retryable", result.Retryable),
		ports.Err(err),
	)
	if domain.IsBusinessRuleViolation(err) {
		o.logger.Error("Payment event violates ledger rules", fields...)
	} else {
		o.logger.Error("Payment event reconciliation failed", fields...)
	}

	if event.EventID == "" {
		return
	}
	ictx, cancel := o.inboxContext(ctx)
	defer cancel()
	if markErr := o.inbox.MarkFailed(ictx, event.EventID, err, result.Retryable); markErr != nil {
		result.Unrecorded = true
		o.logger.Error("Failed to mark inbox event failed",
			ports.String("event_id", event.EventID),
			ports.Bool("retryable", result.Retryable),
			ports.Err(markErr),
		)
		return
	}
	result.Unrecorded = false
}

// record stores the event in the inbox and reports whether it persisted
func (o *Orchestrator) record(ctx context.Context, event domain.PaymentEvent) bool {
	if event.EventID == "" {
		return false
	}
	ictx, cancel := o.inboxContext(ctx)
	defer cancel()
	if _, err := o.inbox.Record(ictx, event); err != nil {
		o.logger.Warn("Failed to record inbox event",
			ports.String("event_id", event.EventID),
			ports.Err(err),
		)
		return false
	}
	return true
}

// inboxContext survives the event deadline so the outcome is still written
func (o *Orchestrator) inboxContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return o.timeouts.LedgerContext(context.WithoutCancel(ctx))
}

func eventFields(event domain.PaymentEvent) []ports.Field {
	fields := []ports.Field{
		ports.String("event_id", event.EventID),
		ports.String("event_type", string(event.Type)),
		ports.String("raw_type", event.RawType),
		ports.String("subject_id", event.SubjectID),
		ports.Int64("amount", event.Amount),
		ports.Int64("amount_refunded", event.AmountRefunded),
		ports.String("currency", event.Currency),
		ports.Bool("captured", event.Captured),
	}
	if m, err := converters.NormalizeAmount(event.Amount, event.Currency); err == nil {
		fields = append(fields, ports.String("amount_display", converters.FormatMoney(m)))
	}
	return fields
}

func metricOutcome(r domain.ReconciliationResult) string {
	switch {
	case r.Failed():
		if code := domain.GetErrorCode(r.Err); code != "" {
			return string(code)
		}
		return "unknown_error"
	case r.Noop:
		return "noop"
	default:
		return string(r.Apply)
	}
}
