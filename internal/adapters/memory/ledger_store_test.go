package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/testutil/fixtures"
)

func TestLedgerStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	payment := fixtures.NewPayment().WithID("pay-1").WithGatewayReference("pi_1").Build()

	require.NoError(t, store.Create(ctx, payment))

	got, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "pi_1", got.GatewayReference)

	byRef, err := store.GetByGatewayReference(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", byRef.ID)

	err = store.Create(ctx, payment)
	assert.True(t, errors.Is(err, domain.ErrPaymentExists))
}

func TestLedgerStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	require.NoError(t, store.Create(ctx, fixtures.NewPayment().WithID("pay-1").Build()))

	got, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	got.Transactions[0].State = domain.TransactionStateSuccess

	again, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStateInitial, again.Transactions[0].State)
}

func TestLedgerStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))

	_, err = store.GetByGatewayReference(ctx, "pi_missing")
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))

	_, err = store.Save(ctx, fixtures.NewPayment().WithID("missing").Build(), 1)
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))
}

func TestLedgerStore_SaveCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore()
	require.NoError(t, store.Create(ctx, fixtures.NewPayment().WithID("pay-1").Build()))

	p, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	p.OrderCreated = true

	saved, err := store.Save(ctx, p, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	// stale writer
	_, err = store.Save(ctx, p, 1)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))

	current, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)
	assert.True(t, current.OrderCreated)
}
