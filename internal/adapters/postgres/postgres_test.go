package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/adapters/postgres"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/services/ledger"
	"github.com/kevin07696/payment-reconciler/internal/testutil/fixtures"
	"github.com/kevin07696/payment-reconciler/internal/testutil/mocks"
)

// setupDB starts a throwaway PostgreSQL container and applies the migrations.
// Skipped with -short or when Docker is unavailable.
func setupDB(t *testing.T) *postgres.DBExecutor {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("reconciler_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(connStr), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool, "up"))
	return postgres.NewDBExecutor(pool)
}

func TestLedgerStore_CreateAndGet(t *testing.T) {
	db := setupDB(t)
	store := postgres.NewLedgerStore(db)
	ctx := context.Background()

	payment := fixtures.NewPayment().WithID("pay-1").WithGatewayReference("pi_1").Build()
	require.NoError(t, store.Create(ctx, payment))

	got, err := store.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment, got)

	byRef, err := store.GetByGatewayReference(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", byRef.ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	err = store.Create(ctx, fixtures.NewPayment().WithID("pay-2").WithGatewayReference("pi_1").Build())
	assert.ErrorIs(t, err, domain.ErrPaymentExists)
}

func TestLedgerStore_SaveIsCompareAndSwap(t *testing.T) {
	db := setupDB(t)
	store := postgres.NewLedgerStore(db)
	ctx := context.Background()

	payment := fixtures.NewPayment().WithID("pay-1").Build()
	require.NoError(t, store.Create(ctx, payment))

	next := payment.Clone()
	next.Transactions[0].State = domain.TransactionStateSuccess
	next.Transactions = append(next.Transactions, domain.Transaction{
		Type:          domain.TransactionTypeRefund,
		State:         domain.TransactionStatePending,
		InteractionID: "re_1",
		Amount:        fixtures.MXN(34500),
		CreatedAt:     payment.CreatedAt,
		UpdatedAt:     payment.CreatedAt,
	})

	saved, err := store.Save(ctx, next, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	require.Len(t, saved.Transactions, 2)
	assert.Equal(t, domain.TransactionStateSuccess, saved.Transactions[0].State)
	assert.Equal(t, "re_1", saved.Transactions[1].InteractionID)

	_, err = store.Save(ctx, next, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = store.Save(ctx, fixtures.NewPayment().WithID("missing").Build(), 1)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestLedgerStore_ConcurrentAuthorizationsThroughLedger(t *testing.T) {
	db := setupDB(t)
	svc := ledger.NewService(postgres.NewLedgerStore(db), mocks.NewMockLogger(), ledger.DefaultConfig())
	ctx := context.Background()

	payment, err := svc.Create(ctx, ledger.NewPaymentParams{
		ID:               "pay-1",
		GatewayReference: "pi_1",
		CartID:           "cart-1",
		AmountPlanned:    fixtures.MXN(45600),
	})
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := svc.Apply(ctx, payment.ID, domain.Transaction{
				Type:          domain.TransactionTypeAuthorization,
				State:         domain.TransactionStateSuccess,
				InteractionID: "pi_1",
				Amount:        fixtures.MXN(45600),
			}, payment.Version)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && outcome == domain.ApplyApplied:
				applied++
			case errors.Is(err, domain.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, conflicts)

	final, err := svc.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version)
	assert.Len(t, final.Transactions, 1)
}

func TestEventInbox_Lifecycle(t *testing.T) {
	db := setupDB(t)
	inbox := postgres.NewEventInbox(db)
	ctx := context.Background()

	event := domain.PaymentEvent{
		EventID:   "evt_1",
		Type:      domain.EventChargeRefunded,
		SubjectID: "pi_1",
		Currency:  "mxn",
		Amount:    45600,
	}

	first, err := inbox.Record(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStatusReceived, first.Status)
	assert.Equal(t, event, first.Event)

	again, err := inbox.Record(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, first.ReceivedAt, again.ReceivedAt)

	require.NoError(t, inbox.MarkFailed(ctx, "evt_1", domain.ErrTransientGateway, true))

	retryable, err := inbox.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, 1, retryable[0].Attempts)
	assert.Contains(t, retryable[0].LastError, "TRANSIENT_GATEWAY_ERROR")

	retryable, err = inbox.ListRetryable(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	require.NoError(t, inbox.MarkDone(ctx, "evt_1"))
	done, err := inbox.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStatusDone, done.Status)
	assert.Empty(t, done.LastError)

	assert.ErrorIs(t, inbox.MarkDone(ctx, "evt_missing"), domain.ErrEventNotFound)
}

func TestNewPool_RejectsBadURL(t *testing.T) {
	_, err := postgres.NewPool(context.Background(), postgres.PoolConfig{DatabaseURL: "://nope"}, zap.NewNop())
	assert.Error(t, err)
}
