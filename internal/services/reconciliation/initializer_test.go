package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payment-reconciler/internal/adapters/memory"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/internal/services/ledger"
	"github.com/kevin07696/payment-reconciler/internal/testutil/fixtures"
	"github.com/kevin07696/payment-reconciler/internal/testutil/mocks"
)

type fakeIntents struct {
	requests  []*ports.CreateIntentRequest
	attached  map[string]string
	createErr error
	attachErr error
}

func (f *fakeIntents) CreatePaymentIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.CreateIntentResult, error) {
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &ports.CreateIntentResult{PaymentReference: "pi_new", ClientSecret: "pi_new_secret"}, nil
}

func (f *fakeIntents) AttachPaymentID(ctx context.Context, paymentReference, paymentID string) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[paymentReference] = paymentID
	return nil
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.NewLedgerStore(), mocks.NewMockLogger(), ledger.DefaultConfig())
	intents := &fakeIntents{}
	init := NewInitializer(intents, svc, mocks.NewMockLogger(), "manual")

	resp, err := init.Initiate(ctx, InitiateRequest{CartID: "cart-5", Amount: fixtures.MXN(45600)})
	require.NoError(t, err)

	assert.Equal(t, "pi_new", resp.PaymentReference)
	assert.Equal(t, "pi_new_secret", resp.ClientSecret)
	assert.Equal(t, "cart-5", resp.CartID)

	require.Len(t, intents.requests, 1)
	assert.Equal(t, "manual", intents.requests[0].CaptureMethod)
	assert.NotEmpty(t, intents.requests[0].IdempotencyKey)
	assert.Equal(t, resp.PaymentID, intents.attached["pi_new"])

	p, err := svc.GetByGatewayReference(ctx, "pi_new")
	require.NoError(t, err)
	assert.Equal(t, resp.PaymentID, p.ID)
	require.Len(t, p.Transactions, 1)
	assert.Equal(t, domain.TransactionStateInitial, p.Transactions[0].State)
	assert.Equal(t, "pi_new", p.Transactions[0].InteractionID)
}

func TestInitiate_AttachFailureIsNotFatal(t *testing.T) {
	svc := ledger.NewService(memory.NewLedgerStore(), mocks.NewMockLogger(), ledger.DefaultConfig())
	logger := mocks.NewMockLogger()
	init := NewInitializer(&fakeIntents{attachErr: errors.New("rate limited")}, svc, logger, "")

	resp, err := init.Initiate(context.Background(), InitiateRequest{CartID: "cart-5", Amount: fixtures.MXN(100)})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PaymentID)
	assert.True(t, logger.HasMessage("Failed to attach payment id to intent"))
}

func TestInitiate_Validation(t *testing.T) {
	intents := &fakeIntents{}
	svc := ledger.NewService(memory.NewLedgerStore(), mocks.NewMockLogger(), ledger.DefaultConfig())
	init := NewInitializer(intents, svc, mocks.NewMockLogger(), "")

	_, err := init.Initiate(context.Background(), InitiateRequest{Amount: fixtures.MXN(100)})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))

	_, err = init.Initiate(context.Background(), InitiateRequest{CartID: "cart-5"})
	assert.True(t, errors.Is(err, domain.ErrValidationFailed))
	assert.Empty(t, intents.requests)
}

func TestInitiate_GatewayFailure(t *testing.T) {
	svc := ledger.NewService(memory.NewLedgerStore(), mocks.NewMockLogger(), ledger.DefaultConfig())
	init := NewInitializer(&fakeIntents{createErr: errors.New("boom")}, svc, mocks.NewMockLogger(), "")

	_, err := init.Initiate(context.Background(), InitiateRequest{CartID: "cart-5", Amount: fixtures.MXN(100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create payment intent")
}
