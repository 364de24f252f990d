// Package dispatch turns ModifyPayment commands into gateway calls and ledger
// transactions.
package dispatch

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	gwerrors "github.com/kevin07696/payment-reconciler/pkg/errors"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
)

// Ledger is the subset of the ledger service the dispatcher needs
type Ledger interface {
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error)
	Apply(ctx context.Context, paymentID string, proposed domain.Transaction, expectedVersion int64) (*domain.Payment, domain.ApplyOutcome, error)
}

// Config tunes conflict handling and timeouts
type Config struct {
	MaxConflictRetries int
	Backoff            resilience.BackoffStrategy
	Timeouts           *resilience.TimeoutConfig
}

// DefaultConfig returns production dispatcher settings
func DefaultConfig() Config {
	return Config{
		MaxConflictRetries: 5,
		Backoff:            resilience.ConflictBackoff(),
		Timeouts:           resilience.DefaultTimeoutConfig(),
	}
}

// Dispatcher executes ModifyPayment commands
type Dispatcher struct {
	ledger  Ledger
	gateway ports.PaymentGateway
	logger  ports.Logger
	cfg     Config
	newKey  func() string
}

// NewDispatcher creates a dispatcher
func NewDispatcher(ledger Ledger, gateway ports.PaymentGateway, logger ports.Logger, cfg Config) *Dispatcher {
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.ConflictBackoff()
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = resilience.DefaultTimeoutConfig()
	}
	if cfg.MaxConflictRetries < 0 {
		cfg.MaxConflictRetries = 0
	}
	return &Dispatcher{
		ledger:  ledger,
		gateway: gateway,
		logger:  logger,
		cfg:     cfg,
		newKey:  uuid.NewString,
	}
}

// Dispatch runs cmd against the gateway (for capture, cancel and refund) and
// records the result on the ledger.
//
// A gateway rejection is recorded as a Failure transaction and reported as
// ErrRejectedByGateway together with the response. Transient gateway errors
// record nothing and return ErrTransientGateway.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *domain.ModifyPayment) (*domain.PaymentProviderModificationResponse, error) {
	if cmd == nil {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "nil command")
	}

	payment, err := d.resolve(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var (
		proposed     domain.Transaction
		outcome      domain.PaymentOutcome
		pspReference string
		rejection    error
	)

	if cmd.Action == domain.ActionAuthorize {
		proposed, outcome = d.authorization(cmd, payment)
		pspReference = proposed.InteractionID
	} else {
		result, gwErr := d.callGateway(ctx, cmd, payment)
		if gwErr != nil && gwerrors.IsRetriable(gwErr) {
			d.logger.Warn("Transient gateway failure",
				ports.String("payment_id", payment.ID),
				ports.String("action", string(cmd.Action)),
				ports.String("event_id", cmd.EventID),
				ports.Err(gwErr),
			)
			return nil, domain.WrapError(domain.ErrorCodeTransientGateway, "gateway call failed", gwErr).
				WithDetail("action", string(cmd.Action))
		}

		proposed, outcome, rejection = d.gatewayTransaction(cmd, result, gwErr)
		pspReference = proposed.InteractionID
	}

	saved, applyOutcome, err := d.apply(ctx, payment, proposed)
	if err != nil {
		return nil, err
	}

	resp := &domain.PaymentProviderModificationResponse{
		Payment:      saved,
		Transaction:  proposed,
		Outcome:      outcome,
		PSPReference: pspReference,
		Apply:        applyOutcome,
	}
	if idx := saved.FindTransaction(proposed.Type, proposed.InteractionID); idx >= 0 {
		resp.Transaction = saved.Transactions[idx]
	}

	d.logger.Info("Payment modification dispatched",
		ports.String("payment_id", saved.ID),
		ports.String("event_id", cmd.EventID),
		ports.String("action", string(cmd.Action)),
		ports.String("outcome", string(outcome)),
		ports.String("psp_reference", pspReference),
		ports.String("apply", string(applyOutcome)),
	)

	if rejection != nil {
		return resp, rejection
	}
	return resp, nil
}

func (d *Dispatcher) resolve(ctx context.Context, cmd *domain.ModifyPayment) (*domain.Payment, error) {
	ctx, cancel := d.cfg.Timeouts.LedgerContext(ctx)
	defer cancel()

	if cmd.PaymentID != "" {
		p, err := d.ledger.Get(ctx, cmd.PaymentID)
		if err == nil || cmd.GatewayReference == "" || !errors.Is(err, domain.ErrPaymentNotFound) {
			return p, err
		}
	}
	if cmd.GatewayReference == "" {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "command has no payment reference")
	}
	return d.ledger.GetByGatewayReference(ctx, cmd.GatewayReference)
}

func (d *Dispatcher) authorization(cmd *domain.ModifyPayment, payment *domain.Payment) (domain.Transaction, domain.PaymentOutcome) {
	reference := cmd.GatewayReference
	if reference == "" {
		reference = payment.GatewayReference
	}

	tx := domain.Transaction{
		Type:          domain.TransactionTypeAuthorization,
		State:         domain.TransactionStateSuccess,
		InteractionID: reference,
		Amount:        cmd.Amount,
	}
	if cmd.Outcome == domain.CommandFailed {
		// A declined attempt is recorded on its own so the intent can still
		// be authorized by a later attempt. Failure is terminal per interaction.
		tx.State = domain.TransactionStateFailure
		tx.InteractionID = "declined:" + cmd.EventID
		return tx, domain.OutcomeRejected
	}
	return tx, domain.OutcomeApproved
}

// callGateway performs the gateway side of capture, cancel and refund with a
// fresh idempotency key. No ledger version is held during the call.
func (d *Dispatcher) callGateway(ctx context.Context, cmd *domain.ModifyPayment, payment *domain.Payment) (*ports.GatewayResult, error) {
	ctx, cancel := d.cfg.Timeouts.GatewayContext(ctx)
	defer cancel()

	key := d.newKey()
	reference := payment.GatewayReference

	switch cmd.Action {
	case domain.ActionCapture:
		return d.gateway.Capture(ctx, reference, cmd.Amount, key)
	case domain.ActionCancel:
		return d.gateway.Cancel(ctx, reference, key)
	case domain.ActionRefund:
		return d.gateway.Refund(ctx, &ports.RefundRequest{
			PaymentReference: reference,
			RefundID:         cmd.RefundID,
			Amount:           cmd.Amount,
			RefundedTotal:    cmd.RefundedTotal,
			IdempotencyKey:   key,
		})
	}
	return nil, gwerrors.NewGatewayError("unsupported_action", "unsupported payment action "+string(cmd.Action),
		gwerrors.CategoryInvalidRequest, false)
}

// gatewayTransaction maps a gateway verdict onto the transaction to record.
// Terminal errors without a gateway object are keyed by the event id, so a
// redelivered rejection dedupes.
func (d *Dispatcher) gatewayTransaction(cmd *domain.ModifyPayment, result *ports.GatewayResult, gwErr error) (domain.Transaction, domain.PaymentOutcome, error) {
	tx := domain.Transaction{
		Type:   cmd.Action.TransactionType(),
		Amount: cmd.Amount,
	}

	if gwErr != nil || result == nil {
		tx.State = domain.TransactionStateFailure
		tx.InteractionID = "rejected:" + cmd.EventID
		if result != nil && result.ProviderReference != "" {
			tx.InteractionID = result.ProviderReference
		}
		rejection := domain.WrapError(domain.ErrorCodeRejectedByGateway, "gateway rejected "+string(cmd.Action), gwErr)
		return tx, domain.OutcomeRejected, rejection
	}

	tx.InteractionID = result.ProviderReference
	if tx.InteractionID == "" {
		tx.InteractionID = "unreferenced:" + cmd.EventID
	}

	switch result.Status {
	case ports.GatewayStatusSucceeded:
		tx.State = domain.TransactionStateSuccess
		return tx, domain.OutcomeApproved, nil
	case ports.GatewayStatusPending:
		tx.State = domain.TransactionStatePending
		return tx, domain.OutcomeReceived, nil
	default:
		tx.State = domain.TransactionStateFailure
		return tx, domain.OutcomeRejected, domain.ErrRejectedByGateway.
			WithDetail("action", string(cmd.Action)).
			WithDetail("gateway_message", result.Message)
	}
}

// apply records tx, re-reading the payment after each version conflict.
func (d *Dispatcher) apply(ctx context.Context, payment *domain.Payment, tx domain.Transaction) (*domain.Payment, domain.ApplyOutcome, error) {
	var (
		saved   *domain.Payment
		outcome domain.ApplyOutcome
	)

	current := payment
	err := resilience.Retry(ctx, d.cfg.Backoff, d.cfg.MaxConflictRetries+1,
		func(err error) bool { return errors.Is(err, domain.ErrVersionConflict) },
		func(attempt int) error {
			lctx, cancel := d.cfg.Timeouts.LedgerContext(ctx)
			defer cancel()

			if attempt > 0 {
				fresh, err := d.ledger.Get(lctx, payment.ID)
				if err != nil {
					return err
				}
				current = fresh
				d.logger.Debug("Retrying ledger apply after version conflict",
					ports.String("payment_id", payment.ID),
					ports.Int("attempt", attempt),
					ports.Int64("version", current.Version),
				)
			}

			var err error
			saved, outcome, err = d.ledger.Apply(lctx, current.ID, tx, current.Version)
			return err
		})

	if errors.Is(err, domain.ErrVersionConflict) {
		return nil, "", domain.WrapError(domain.ErrorCodeReconciliationFailed, "version conflicts exhausted retries", err).
			WithDetail("payment_id", payment.ID)
	}
	if err != nil {
		return nil, "", err
	}
	return saved, outcome, nil
}
