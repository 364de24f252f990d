// Package order creates the commerce order once a payment is authorized.
package order

import (
	"context"
	"errors"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
)

// Outcome reports what the trigger did
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
)

// Ledger is the subset of the ledger service that owns the order latch
type Ledger interface {
	Get(ctx context.Context, id string) (*domain.Payment, error)
	ClaimOrder(ctx context.Context, paymentID string, expectedVersion int64) (*domain.Payment, bool, error)
	ConfirmOrder(ctx context.Context, paymentID, orderID string) (*domain.Payment, error)
	ReleaseOrder(ctx context.Context, paymentID string) (*domain.Payment, error)
}

// Config tunes latch retries and the order call budget
type Config struct {
	MaxClaimRetries int
	Backoff         resilience.BackoffStrategy
	Timeouts        *resilience.TimeoutConfig
}

// DefaultConfig returns production trigger settings
func DefaultConfig() Config {
	return Config{
		MaxClaimRetries: 5,
		Backoff:         resilience.ConflictBackoff(),
		Timeouts:        resilience.DefaultTimeoutConfig(),
	}
}

// Trigger creates at most one order per payment
type Trigger struct {
	ledger  Ledger
	creator ports.OrderCreator
	linker  ports.OrderLinker
	logger  ports.Logger
	cfg     Config
}

// NewTrigger creates an order trigger. linker may be nil, in which case the
// order id is not written back to the gateway.
func NewTrigger(ledger Ledger, creator ports.OrderCreator, linker ports.OrderLinker, logger ports.Logger, cfg Config) *Trigger {
	if cfg.MaxClaimRetries < 1 {
		cfg.MaxClaimRetries = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.ConflictBackoff()
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = resilience.DefaultTimeoutConfig()
	}
	return &Trigger{ledger: ledger, creator: creator, linker: linker, logger: logger, cfg: cfg}
}

// Eligible reports whether tx should lead to an order for payment
func Eligible(payment *domain.Payment, tx domain.Transaction) bool {
	if payment == nil || payment.OrderCreated || !tx.IsSuccess() {
		return false
	}
	return tx.Type == domain.TransactionTypeAuthorization || tx.Type == domain.TransactionTypeCharge
}

// MaybeCreateOrder creates the order for payment when tx makes it eligible.
// The order-created latch is claimed with a compare-and-swap first, so
// concurrent duplicates create one order at most. A failed order call
// releases the latch and returns ErrOrderCreationFailed.
func (t *Trigger) MaybeCreateOrder(ctx context.Context, payment *domain.Payment, tx domain.Transaction) (Outcome, error) {
	if !Eligible(payment, tx) {
		return OutcomeSkipped, nil
	}

	claimed, err := t.claim(ctx, payment)
	if err != nil {
		return OutcomeSkipped, err
	}
	if claimed == nil {
		t.logger.Debug("Order already claimed",
			ports.String("payment_id", payment.ID),
		)
		return OutcomeSkipped, nil
	}

	orderID, err := t.createOrder(ctx, claimed)
	if err != nil {
		if _, releaseErr := t.ledger.ReleaseOrder(ctx, claimed.ID); releaseErr != nil {
			t.logger.Error("Failed to release order latch",
				ports.String("payment_id", claimed.ID),
				ports.Err(releaseErr),
			)
		}
		t.logger.Error("Order creation failed",
			ports.String("payment_id", claimed.ID),
			ports.String("cart_id", claimed.CartID),
			ports.Err(err),
		)
		return OutcomeSkipped, domain.WrapError(domain.ErrorCodeOrderCreationFailed, "order creation failed", err).
			WithDetail("payment_id", claimed.ID)
	}

	if _, err := t.ledger.ConfirmOrder(ctx, claimed.ID, orderID); err != nil {
		// The order exists and the latch stays set, only the id is missing.
		t.logger.Error("Failed to record order id",
			ports.String("payment_id", claimed.ID),
			ports.String("order_id", orderID),
			ports.Err(err),
		)
	}
	t.linkOrder(ctx, claimed, orderID)

	t.logger.Info("Order created",
		ports.String("payment_id", claimed.ID),
		ports.String("cart_id", claimed.CartID),
		ports.String("order_id", orderID),
		ports.String("transaction_type", string(tx.Type)),
	)
	return OutcomeCreated, nil
}

// claim returns the claimed payment, or nil when another worker holds the latch
func (t *Trigger) claim(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	var claimed *domain.Payment
	current := payment

	err := resilience.Retry(ctx, t.cfg.Backoff, t.cfg.MaxClaimRetries,
		func(err error) bool { return errors.Is(err, domain.ErrVersionConflict) },
		func(attempt int) error {
			if attempt > 0 {
				fresh, err := t.ledger.Get(ctx, payment.ID)
				if err != nil {
					return err
				}
				current = fresh
			}
			if current.OrderCreated {
				return nil
			}

			p, ok, err := t.ledger.ClaimOrder(ctx, current.ID, current.Version)
			if err != nil {
				return err
			}
			if ok {
				claimed = p
			}
			return nil
		})

	if errors.Is(err, domain.ErrVersionConflict) {
		return nil, domain.WrapError(domain.ErrorCodeReconciliationFailed, "order latch contention", err).
			WithDetail("payment_id", payment.ID)
	}
	return claimed, err
}

func (t *Trigger) createOrder(ctx context.Context, payment *domain.Payment) (string, error) {
	ctx, cancel := t.cfg.Timeouts.OrderContext(ctx)
	defer cancel()
	return t.creator.CreateOrder(ctx, payment.CartID, payment.ID)
}

// linkOrder writes the order id to the gateway payment. It is best effort:
// the order and the ledger latch are already settled.
func (t *Trigger) linkOrder(ctx context.Context, payment *domain.Payment, orderID string) {
	if t.linker == nil || payment.GatewayReference == "" {
		return
	}
	ctx, cancel := t.cfg.Timeouts.GatewayContext(ctx)
	defer cancel()
	if err := t.linker.AttachOrderID(ctx, payment.GatewayReference, orderID); err != nil {
		t.logger.Warn("Failed to attach order id to gateway payment",
			ports.String("payment_id", payment.ID),
			ports.String("gateway_reference", payment.GatewayReference),
			ports.String("order_id", orderID),
			ports.Err(err),
		)
	}
}
