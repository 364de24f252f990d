package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/testutil/fixtures"
)

// setupStore connects to a local Redis and namespaces keys per test
func setupStore(t *testing.T) *LedgerStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}

	prefix := "test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	return NewLedgerStore(client, prefix)
}

func TestLedgerStore_CreateAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	payment := fixtures.NewPayment().WithID("pay-1").WithGatewayReference("pi_1").Build()

	require.NoError(t, store.Create(ctx, payment))

	got, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, payment.AmountPlanned, got.AmountPlanned)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, domain.TransactionStateInitial, got.Transactions[0].State)

	byRef, err := store.GetByGatewayReference(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", byRef.ID)

	err = store.Create(ctx, payment)
	assert.True(t, errors.Is(err, domain.ErrPaymentExists))

	// Same gateway reference under a new id is also rejected
	other := fixtures.NewPayment().WithID("pay-2").WithGatewayReference("pi_1").Build()
	assert.True(t, errors.Is(store.Create(ctx, other), domain.ErrPaymentExists))
}

func TestLedgerStore_NotFound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))

	_, err = store.GetByGatewayReference(ctx, "pi_missing")
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))

	_, err = store.Save(ctx, fixtures.NewPayment().WithID("missing").Build(), 1)
	assert.True(t, errors.Is(err, domain.ErrPaymentNotFound))
}

func TestLedgerStore_SaveIsCompareAndSwap(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, fixtures.NewPayment().WithID("pay-1").Build()))

	current, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)

	next := current.Clone()
	next.Transactions[0].State = domain.TransactionStateSuccess
	saved, err := store.Save(ctx, next, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = store.Save(ctx, next, 1)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))

	got, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, domain.TransactionStateSuccess, got.Transactions[0].State)
}

func TestLedgerStore_ConcurrentSavesOneWins(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, fixtures.NewPayment().WithID("pay-1").Build()))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := fixtures.NewPayment().WithID("pay-1").Authorized().Build()
			_, err := store.Save(ctx, next, 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, writers-1, conflicts)

	got, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}
