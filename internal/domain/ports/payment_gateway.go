package ports

import (
	"context"

	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// GatewayStatus is the gateway's verdict on a modification request
type GatewayStatus string

const (
	GatewayStatusSucceeded GatewayStatus = "succeeded"
	GatewayStatusPending   GatewayStatus = "pending"
	GatewayStatusFailed    GatewayStatus = "failed"
)

// GatewayResult is the gateway response for a capture, cancel or refund
type GatewayResult struct {
	Status            GatewayStatus
	ProviderReference string // id of the gateway object that records the operation
	Message           string
}

// PaymentGateway performs payment modifications at the gateway.
// Each call carries an idempotency key; the gateway dedupes on it.
//
// Errors are *errors.GatewayError from pkg/errors so callers can tell
// transient failures from terminal rejections.
type PaymentGateway interface {
	Capture(ctx context.Context, paymentReference string, amount domain.Money, idempotencyKey string) (*GatewayResult, error)
	Cancel(ctx context.Context, paymentReference string, idempotencyKey string) (*GatewayResult, error)
	Refund(ctx context.Context, req *RefundRequest) (*GatewayResult, error)
}

// RefundRequest describes one refund on a payment. Webhooks report refunds
// that already exist, so RefundID and RefundedTotal let the gateway find the
// refund the event is about instead of issuing another.
type RefundRequest struct {
	PaymentReference string
	RefundID         string // gateway refund id, when the event carries one
	Amount           domain.Money
	RefundedTotal    int64 // cumulative refunded amount once this refund is included
	IdempotencyKey   string
}

// CreateIntentRequest asks the gateway to open a payment for a cart
type CreateIntentRequest struct {
	CartID         string
	Amount         domain.Money
	CaptureMethod  string // automatic or manual
	IdempotencyKey string
}

// CreateIntentResult describes the payment opened at the gateway
type CreateIntentResult struct {
	PaymentReference string
	ClientSecret     string
}

// PaymentIntentCreator opens gateway payments and links them back to the ledger
type PaymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResult, error)
	AttachPaymentID(ctx context.Context, paymentReference, paymentID string) error
}

// OrderLinker records the commerce order id on the gateway payment so the
// order can be found from the gateway dashboard
type OrderLinker interface {
	AttachOrderID(ctx context.Context, paymentReference, orderID string) error
}
