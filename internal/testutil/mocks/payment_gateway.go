package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

// GatewayCall records one modification request
type GatewayCall struct {
	PaymentReference string
	Amount           domain.Money
	IdempotencyKey   string
	RefundID         string
	RefundedTotal    int64
}

// MockPaymentGateway is a mock implementation of PaymentGateway for testing.
// Without a configured response every call succeeds; captures and cancels
// report the payment reference, refunds a reference derived from the amount.
type MockPaymentGateway struct {
	mu sync.Mutex

	// Responses to return
	captureResponse *ports.GatewayResult
	captureError    error
	cancelResponse  *ports.GatewayResult
	cancelError     error
	refundResponse  *ports.GatewayResult
	refundError     error

	// Call tracking
	CaptureCalls []GatewayCall
	CancelCalls  []GatewayCall
	RefundCalls  []GatewayCall
}

// NewMockPaymentGateway creates a new mock payment gateway
func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{}
}

// SetCaptureResponse sets the response to return from Capture
func (m *MockPaymentGateway) SetCaptureResponse(result *ports.GatewayResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureResponse = result
	m.captureError = err
}

// SetCancelResponse sets the response to return from Cancel
func (m *MockPaymentGateway) SetCancelResponse(result *ports.GatewayResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelResponse = result
	m.cancelError = err
}

// SetRefundResponse sets the response to return from Refund
func (m *MockPaymentGateway) SetRefundResponse(result *ports.GatewayResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refundResponse = result
	m.refundError = err
}

// Capture implements PaymentGateway.Capture
func (m *MockPaymentGateway) Capture(ctx context.Context, paymentReference string, amount domain.Money, idempotencyKey string) (*ports.GatewayResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls = append(m.CaptureCalls, GatewayCall{PaymentReference: paymentReference, Amount: amount, IdempotencyKey: idempotencyKey})
	if m.captureResponse == nil && m.captureError == nil {
		return &ports.GatewayResult{Status: ports.GatewayStatusSucceeded, ProviderReference: paymentReference}, nil
	}
	return m.captureResponse, m.captureError
}

// Cancel implements PaymentGateway.Cancel
func (m *MockPaymentGateway) Cancel(ctx context.Context, paymentReference string, idempotencyKey string) (*ports.GatewayResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls = append(m.CancelCalls, GatewayCall{PaymentReference: paymentReference, IdempotencyKey: idempotencyKey})
	if m.cancelResponse == nil && m.cancelError == nil {
		return &ports.GatewayResult{Status: ports.GatewayStatusSucceeded, ProviderReference: paymentReference}, nil
	}
	return m.cancelResponse, m.cancelError
}

// Refund implements PaymentGateway.Refund. By default it reports the
// request's refund id, or one derived from the cumulative refunded total.
func (m *MockPaymentGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.GatewayResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefundCalls = append(m.RefundCalls, GatewayCall{
		PaymentReference: req.PaymentReference,
		Amount:           req.Amount,
		IdempotencyKey:   req.IdempotencyKey,
		RefundID:         req.RefundID,
		RefundedTotal:    req.RefundedTotal,
	})
	if m.refundResponse == nil && m.refundError == nil {
		reference := req.RefundID
		if reference == "" {
			reference = fmt.Sprintf("re_%s_%d", req.PaymentReference, req.RefundedTotal)
		}
		return &ports.GatewayResult{Status: ports.GatewayStatusSucceeded, ProviderReference: reference}, nil
	}
	return m.refundResponse, m.refundError
}

// Calls returns the total number of gateway calls made
func (m *MockPaymentGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CaptureCalls) + len(m.CancelCalls) + len(m.RefundCalls)
}

// Reset resets all mock state
func (m *MockPaymentGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureResponse = nil
	m.captureError = nil
	m.cancelResponse = nil
	m.cancelError = nil
	m.refundResponse = nil
	m.refundError = nil
	m.CaptureCalls = nil
	m.CancelCalls = nil
	m.RefundCalls = nil
}
