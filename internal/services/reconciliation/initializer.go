package reconciliation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/internal/services/ledger"
)

// PaymentCreator is the ledger operation the initializer needs
type PaymentCreator interface {
	Create(ctx context.Context, params ledger.NewPaymentParams) (*domain.Payment, error)
}

// InitiateRequest opens a payment for a cart
type InitiateRequest struct {
	CartID string
	Amount domain.Money
}

// InitiateResponse is what the storefront needs to confirm the payment
type InitiateResponse struct {
	PaymentID        string
	PaymentReference string
	ClientSecret     string
	CartID           string
}

// Initializer creates the gateway intent and its ledger payment together
type Initializer struct {
	gateway       ports.PaymentIntentCreator
	ledger        PaymentCreator
	logger        ports.Logger
	captureMethod string
}

// NewInitializer creates an initializer; captureMethod is automatic or manual
func NewInitializer(gateway ports.PaymentIntentCreator, ledger PaymentCreator, logger ports.Logger, captureMethod string) *Initializer {
	if captureMethod == "" {
		captureMethod = "automatic"
	}
	return &Initializer{gateway: gateway, ledger: ledger, logger: logger, captureMethod: captureMethod}
}

// Initiate opens the gateway intent, records the payment with an Initial
// authorization and links the payment id back onto the intent.
func (i *Initializer) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.CartID == "" {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "missing cart id")
	}
	if req.Amount.CentAmount <= 0 || req.Amount.CurrencyCode == "" {
		return nil, domain.ErrValidationFailed.WithDetail("reason", "invalid amount")
	}

	intent, err := i.gateway.CreatePaymentIntent(ctx, &ports.CreateIntentRequest{
		CartID:         req.CartID,
		Amount:         req.Amount,
		CaptureMethod:  i.captureMethod,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	payment, err := i.ledger.Create(ctx, ledger.NewPaymentParams{
		GatewayReference: intent.PaymentReference,
		CartID:           req.CartID,
		AmountPlanned:    req.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("create ledger payment: %w", err)
	}

	// Events fall back to the gateway reference, so a failed link is not fatal.
	if err := i.gateway.AttachPaymentID(ctx, intent.PaymentReference, payment.ID); err != nil {
		i.logger.Warn("Failed to attach payment id to intent",
			ports.String("payment_id", payment.ID),
			ports.String("payment_reference", intent.PaymentReference),
			ports.Err(err),
		)
	}

	i.logger.Info("Payment initiated",
		ports.String("payment_id", payment.ID),
		ports.String("payment_reference", intent.PaymentReference),
		ports.String("cart_id", req.CartID),
		ports.String("capture_method", i.captureMethod),
	)

	return &InitiateResponse{
		PaymentID:        payment.ID,
		PaymentReference: intent.PaymentReference,
		ClientSecret:     intent.ClientSecret,
		CartID:           req.CartID,
	}, nil
}
