package ports

import (
	"context"

	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// LedgerStore persists payments with optimistic concurrency.
//
// Save writes the whole aggregate only if the stored version equals
// expectedVersion; the stored copy gets expectedVersion+1. A mismatch returns
// domain.ErrVersionConflict. Missing payments return domain.ErrPaymentNotFound.
type LedgerStore interface {
	Create(ctx context.Context, payment *domain.Payment) error
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error)
	Save(ctx context.Context, payment *domain.Payment, expectedVersion int64) (*domain.Payment, error)
}

// EventInbox records every received event so retryable failures can be replayed
type EventInbox interface {
	// Record stores the event if unseen and returns the stored entry
	Record(ctx context.Context, event domain.PaymentEvent) (*domain.InboxEvent, error)
	MarkDone(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, cause error, retryable bool) error
	Get(ctx context.Context, eventID string) (*domain.InboxEvent, error)
	// ListRetryable returns failed retryable events with fewer than maxAttempts attempts, oldest first
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*domain.InboxEvent, error)
}

// OrderCreator creates the commerce order for a paid cart
type OrderCreator interface {
	CreateOrder(ctx context.Context, cartID, paymentReference string) (orderID string, err error)
}
