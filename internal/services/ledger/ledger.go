// Package ledger owns the payment transaction state machine. It validates and
// persists transitions under optimistic concurrency and never calls out to the
// gateway or the commerce platform.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
	"github.com/kevin07696/payment-reconciler/pkg/timeutil"
)

// Config tunes the ledger service
type Config struct {
	// MaxLatchRetries bounds conflict retries for ConfirmOrder and ReleaseOrder
	MaxLatchRetries int
	Backoff         resilience.BackoffStrategy
}

// DefaultConfig returns the production ledger settings
func DefaultConfig() Config {
	return Config{
		MaxLatchRetries: 5,
		Backoff:         resilience.ConflictBackoff(),
	}
}

// Service applies transactions to payments
type Service struct {
	store  ports.LedgerStore
	logger ports.Logger
	cfg    Config
	now    func() time.Time
}

// NewService creates a ledger service over the given store
func NewService(store ports.LedgerStore, logger ports.Logger, cfg Config) *Service {
	if cfg.MaxLatchRetries < 1 {
		cfg.MaxLatchRetries = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = resilience.ConflictBackoff()
	}
	return &Service{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    timeutil.Now,
	}
}

// NewPaymentParams describes a payment opened for a cart
type NewPaymentParams struct {
	ID               string // generated when empty
	GatewayReference string
	CartID           string
	AmountPlanned    domain.Money
}

// Create stores a new payment with an Initial authorization whose interaction
// id is the gateway payment reference.
func (s *Service) Create(ctx context.Context, params NewPaymentParams) (*domain.Payment, error) {
	if params.GatewayReference == "" {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "missing gateway reference")
	}
	if params.AmountPlanned.CentAmount < 0 || params.AmountPlanned.CurrencyCode == "" {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "invalid planned amount")
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()

	payment := &domain.Payment{
		ID:               id,
		Version:          1,
		GatewayReference: params.GatewayReference,
		CartID:           params.CartID,
		AmountPlanned:    params.AmountPlanned,
		Transactions: []domain.Transaction{{
			Type:          domain.TransactionTypeAuthorization,
			State:         domain.TransactionStateInitial,
			InteractionID: params.GatewayReference,
			Amount:        params.AmountPlanned,
			CreatedAt:     now,
			UpdatedAt:     now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Info("Payment created",
		ports.String("payment_id", payment.ID),
		ports.String("gateway_reference", payment.GatewayReference),
		ports.String("cart_id", payment.CartID),
	)
	return payment, nil
}

// Get loads a payment by id
func (s *Service) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return s.store.Get(ctx, id)
}

// GetByGatewayReference loads a payment by its gateway payment reference
func (s *Service) GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return s.store.GetByGatewayReference(ctx, reference)
}

// Apply records proposed on the payment if expectedVersion is still current.
//
// Duplicates of an existing (type, interaction id) pair return ApplyDeduped
// with the unchanged payment. Real mutations bump the version by one.
func (s *Service) Apply(ctx context.Context, paymentID string, proposed domain.Transaction, expectedVersion int64) (*domain.Payment, domain.ApplyOutcome, error) {
	current, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, "", err
	}
	if current.Version != expectedVersion {
		return nil, "", domain.ErrVersionConflict.
			WithDetail("payment_id", paymentID).
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", current.Version)
	}

	next, outcome, err := Evaluate(current, proposed, s.now())
	if err != nil {
		return nil, "", err
	}
	if outcome == domain.ApplyDeduped {
		s.logger.Debug("Transaction deduplicated",
			ports.String("payment_id", paymentID),
			ports.String("transaction_type", string(proposed.Type)),
			ports.String("interaction_id", proposed.InteractionID),
		)
		return current, domain.ApplyDeduped, nil
	}

	saved, err := s.store.Save(ctx, next, expectedVersion)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Transaction applied",
		ports.String("payment_id", paymentID),
		ports.String("transaction_type", string(proposed.Type)),
		ports.String("state", string(proposed.State)),
		ports.String("interaction_id", proposed.InteractionID),
		ports.Int64("amount", proposed.Amount.CentAmount),
		ports.Int64("version", saved.Version),
	)
	return saved, domain.ApplyApplied, nil
}

// ClaimOrder sets the order-created latch if it is still clear and the
// payment is at expectedVersion. It returns claimed=false when another
// worker already holds the latch.
func (s *Service) ClaimOrder(ctx context.Context, paymentID string, expectedVersion int64) (*domain.Payment, bool, error) {
	current, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if current.Version != expectedVersion {
		return nil, false, domain.ErrVersionConflict.WithDetail("payment_id", paymentID)
	}
	if current.OrderCreated {
		return current, false, nil
	}

	next := current.Clone()
	next.OrderCreated = true
	next.UpdatedAt = s.now()

	saved, err := s.store.Save(ctx, next, expectedVersion)
	if err != nil {
		return nil, false, err
	}
	return saved, true, nil
}

// ConfirmOrder stores the created order id on a claimed payment
func (s *Service) ConfirmOrder(ctx context.Context, paymentID, orderID string) (*domain.Payment, error) {
	return s.mutateLatch(ctx, paymentID, func(p *domain.Payment) bool {
		if p.OrderID == orderID && p.OrderCreated {
			return false
		}
		p.OrderCreated = true
		p.OrderID = orderID
		return true
	})
}

// ReleaseOrder clears the latch after a failed order call so a redelivery can retry
func (s *Service) ReleaseOrder(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.mutateLatch(ctx, paymentID, func(p *domain.Payment) bool {
		if !p.OrderCreated || p.OrderID != "" {
			return false
		}
		p.OrderCreated = false
		return true
	})
}

// mutateLatch re-reads and retries on version conflicts, which here only
// come from unrelated transactions landing concurrently.
func (s *Service) mutateLatch(ctx context.Context, paymentID string, mutate func(*domain.Payment) bool) (*domain.Payment, error) {
	var result *domain.Payment

	err := resilience.Retry(ctx, s.cfg.Backoff, s.cfg.MaxLatchRetries,
		func(err error) bool { return errors.Is(err, domain.ErrVersionConflict) },
		func(int) error {
			current, err := s.store.Get(ctx, paymentID)
			if err != nil {
				return err
			}

			next := current.Clone()
			if !mutate(next) {
				result = current
				return nil
			}
			next.UpdatedAt = s.now()

			saved, err := s.store.Save(ctx, next, current.Version)
			if err != nil {
				return err
			}
			result = saved
			return nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}
