package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payment-reconciler/internal/adapters/memory"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/internal/services/dispatch"
	"github.com/kevin07696/payment-reconciler/internal/services/ledger"
	"github.com/kevin07696/payment-reconciler/internal/services/order"
	"github.com/kevin07696/payment-reconciler/internal/testutil/fixtures"
	"github.com/kevin07696/payment-reconciler/internal/testutil/mocks"
	gwerrors "github.com/kevin07696/payment-reconciler/pkg/errors"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
)

type harness struct {
	orchestrator *Orchestrator
	redriver     *Redriver
	ledger       *ledger.Service
	inbox        *memory.EventInbox
	gateway      *mocks.MockPaymentGateway
	orders       *mocks.MockOrderCreator
	logger       *mocks.MockLogger
}

func newHarness(t *testing.T, seed ...*domain.Payment) *harness {
	t.Helper()
	return newHarnessWithInbox(t, nil, seed...)
}

// newHarnessWithInbox lets a test wrap the in-memory inbox the orchestrator writes to
func newHarnessWithInbox(t *testing.T, wrap func(ports.EventInbox) ports.EventInbox, seed ...*domain.Payment) *harness {
	t.Helper()
	store := memory.NewLedgerStore()
	for _, p := range seed {
		require.NoError(t, store.Create(context.Background(), p))
	}

	logger := mocks.NewMockLogger()
	timeouts := resilience.TestTimeoutConfig()
	backoff := &resilience.FixedBackoff{Delay: time.Millisecond}

	svc := ledger.NewService(store, logger, ledger.Config{MaxLatchRetries: 10, Backoff: backoff})
	gateway := mocks.NewMockPaymentGateway()
	orders := &mocks.MockOrderCreator{}
	inbox := memory.NewEventInbox()
	var orchInbox ports.EventInbox = inbox
	if wrap != nil {
		orchInbox = wrap(inbox)
	}

	dispatcher := dispatch.NewDispatcher(svc, gateway, logger, dispatch.Config{
		MaxConflictRetries: 10,
		Backoff:            backoff,
		Timeouts:           timeouts,
	})
	trigger := order.NewTrigger(svc, orders, nil, logger, order.Config{
		MaxClaimRetries: 10,
		Backoff:         backoff,
		Timeouts:        timeouts,
	})
	orch := NewOrchestrator(dispatcher, trigger, orchInbox, logger, timeouts)
	redriver := NewRedriver(inbox, orch, logger, RedriveConfig{
		Interval:    time.Second,
		MaxAttempts: 3,
		BatchSize:   10,
		Timeouts:    timeouts,
	})

	return &harness{
		orchestrator: orch,
		redriver:     redriver,
		ledger:       svc,
		inbox:        inbox,
		gateway:      gateway,
		orders:       orders,
		logger:       logger,
	}
}

func authEvent(id string) domain.PaymentEvent {
	return domain.PaymentEvent{
		EventID:   id,
		Type:      domain.EventAuthorizationSucceeded,
		RawType:   "payment_intent.succeeded",
		SubjectID: "pi_test",
		PaymentID: "pay-1",
		Currency:  "mxn",
		Amount:    45600,
		Captured:  true,
	}
}

func refundEvent(id string, refunded, previous int64) domain.PaymentEvent {
	return domain.PaymentEvent{
		EventID:                id,
		Type:                   domain.EventChargeRefunded,
		RawType:                "charge.refunded",
		SubjectID:              "pi_test",
		PaymentID:              "pay-1",
		Currency:               "mxn",
		Amount:                 45600,
		AmountRefunded:         refunded,
		PreviousAmountRefunded: fixtures.Int64Ptr(previous),
		Captured:               true,
	}
}

func TestHandle_AuthorizationCreatesOrder(t *testing.T) {
	h := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())
	ctx := context.Background()
	h.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("order-1", nil).Once()

	result := h.orchestrator.Handle(ctx, authEvent("evt_1"))

	require.NoError(t, result.Err)
	assert.Equal(t, domain.StageDone, result.Stage)
	assert.Equal(t, domain.ApplyApplied, result.Apply)
	assert.True(t, result.OrderCreated)
	assert.True(t, result.Acknowledge())

	p, err := h.ledger.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", p.OrderID)
	assert.NotNil(t, p.SuccessfulAuthorization())

	entry, err := h.inbox.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStatusDone, entry.Status)

	// redelivery is absorbed
	result = h.orchestrator.Handle(ctx, authEvent("evt_1"))
	assert.Equal(t, domain.StageDone, result.Stage)
	assert.Equal(t, domain.ApplyDeduped, result.Apply)
	assert.False(t, result.OrderCreated)
	h.orders.AssertExpectations(t)
}

func TestHandle_Noop(t *testing.T) {
	h := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())

	event := authEvent("evt_2")
	event.Type = domain.EventUnsupported
	event.RawType = "customer.created"

	result := h.orchestrator.Handle(context.Background(), event)
	assert.Equal(t, domain.StageDone, result.Stage)
	assert.True(t, result.Noop)
	assert.Equal(t, 0, h.gateway.Calls())
}

func TestHandle_MalformedEventIsAcknowledged(t *testing.T) {
	h := newHarness(t)

	event := authEvent("")
	result := h.orchestrator.Handle(context.Background(), event)

	assert.True(t, result.Failed())
	assert.Equal(t, domain.StageReceived, result.FailedAt)
	assert.True(t, errors.Is(result.Err, domain.ErrMalformedEvent))
	assert.False(t, result.Retryable)
	assert.True(t, result.Acknowledge())
	assert.NotEmpty(t, h.logger.Errors())
}

func TestHandle_RefundExample(t *testing.T) {
	seed := fixtures.NewPayment().WithID("pay-1").Authorized().WithOrder("order-1").WithVersion(2).Build()
	h := newHarness(t, seed)
	ctx := context.Background()

	result := h.orchestrator.Handle(ctx, refundEvent("evt_refund", 34500, 0))
	require.NoError(t, result.Err)
	assert.Equal(t, domain.StageDone, result.Stage)

	p, err := h.ledger.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Version)

	last := p.Transactions[len(p.Transactions)-1]
	assert.Equal(t, domain.TransactionTypeRefund, last.Type)
	assert.Equal(t, domain.TransactionStateSuccess, last.State)
	assert.Equal(t, int64(34500), last.Amount.CentAmount)
	assert.Equal(t, "MXN", last.Amount.CurrencyCode)
}

// ledgerEntry is the part of a transaction that must not depend on event order
type ledgerEntry struct {
	Type          domain.TransactionType
	State         domain.TransactionState
	InteractionID string
	Amount        domain.Money
}

func ledgerEntries(p *domain.Payment) []ledgerEntry {
	out := make([]ledgerEntry, 0, len(p.Transactions))
	for _, tx := range p.Transactions {
		out = append(out, ledgerEntry{tx.Type, tx.State, tx.InteractionID, tx.Amount})
	}
	return out
}

func TestHandle_RefundBeforeAuthorization(t *testing.T) {
	h := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())
	ctx := context.Background()
	h.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("order-1", nil).Once()

	result := h.orchestrator.Handle(ctx, refundEvent("evt_refund", 34500, 0))
	assert.True(t, result.Failed())
	assert.True(t, errors.Is(result.Err, domain.ErrNoPriorAuthorization))
	assert.False(t, result.Retryable)

	// not picked up automatically
	summary, err := h.redriver.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Replayed)

	result = h.orchestrator.Handle(ctx, authEvent("evt_auth"))
	require.NoError(t, result.Err)

	// operator replays the refund in causal order
	result, err = h.redriver.Redrive(ctx, "evt_refund")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, result.Stage)

	outOfOrder, err := h.ledger.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Len(t, outOfOrder.Transactions, 2)
	assert.Equal(t, "order-1", outOfOrder.OrderID)

	// the same events delivered in causal order
	causal := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())
	causal.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("order-1", nil).Once()
	require.NoError(t, causal.orchestrator.Handle(ctx, authEvent("evt_auth")).Err)
	require.NoError(t, causal.orchestrator.Handle(ctx, refundEvent("evt_refund", 34500, 0)).Err)

	inOrder, err := causal.ledger.Get(ctx, "pay-1")
	require.NoError(t, err)

	assert.Equal(t, ledgerEntries(inOrder), ledgerEntries(outOfOrder))
	assert.Equal(t, ledger.ComputeLedgerState(inOrder.Transactions), ledger.ComputeLedgerState(outOfOrder.Transactions))
	assert.Equal(t, inOrder.OrderID, outOfOrder.OrderID)
	h.orders.AssertExpectations(t)
	causal.orders.AssertExpectations(t)
}

func TestHandle_ConsecutivePartialRefunds(t *testing.T) {
	tests := []struct {
		name      string
		refundIDs []string
		wantIDs   []string
	}{
		{
			name:      "refund ids from the event",
			refundIDs: []string{"re_1", "re_2", "re_3"},
			wantIDs:   []string{"re_1", "re_2", "re_3"},
		},
		{
			name:      "refund ids resolved by running total",
			refundIDs: []string{"", "", ""},
			wantIDs:   []string{"re_pi_test_10000", "re_pi_test_20000", "re_pi_test_25000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := fixtures.NewPayment().WithID("pay-1").Authorized().WithOrder("order-1").Build()
			h := newHarness(t, seed)
			ctx := context.Background()

			totals := []int64{10000, 20000, 25000}
			var previous int64
			for i, total := range totals {
				event := refundEvent(fmt.Sprintf("evt_refund_%d", i+1), total, previous)
				event.RefundID = tt.refundIDs[i]
				previous = total

				result := h.orchestrator.Handle(ctx, event)
				require.NoError(t, result.Err)
				assert.Equal(t, domain.ApplyApplied, result.Apply, "refund %d", i+1)
			}

			p, err := h.ledger.Get(ctx, "pay-1")
			require.NoError(t, err)

			var refunds []ledgerEntry
			for _, e := range ledgerEntries(p) {
				if e.Type == domain.TransactionTypeRefund {
					refunds = append(refunds, e)
				}
			}
			require.Len(t, refunds, 3)
			for i, want := range tt.wantIDs {
				assert.Equal(t, want, refunds[i].InteractionID)
				assert.Equal(t, domain.TransactionStateSuccess, refunds[i].State)
			}
			assert.Equal(t, int64(10000), refunds[0].Amount.CentAmount)
			assert.Equal(t, int64(10000), refunds[1].Amount.CentAmount)
			assert.Equal(t, int64(5000), refunds[2].Amount.CentAmount)
			assert.Equal(t, int64(25000), ledger.ComputeLedgerState(p.Transactions).RefundedAmount)

			// redelivering the second refund is absorbed
			redelivered := refundEvent("evt_refund_2", 20000, 10000)
			redelivered.RefundID = tt.refundIDs[1]
			result := h.orchestrator.Handle(ctx, redelivered)
			require.NoError(t, result.Err)
			assert.Equal(t, domain.ApplyDeduped, result.Apply)
		})
	}
}

func TestHandle_DeclinedThenPaid(t *testing.T) {
	h := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())
	ctx := context.Background()
	h.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("order-1", nil).Once()

	declined := authEvent("evt_declined")
	declined.Type = domain.EventAuthorizationFailed
	declined.RawType = "payment_intent.payment_failed"
	declined.Captured = false

	result := h.orchestrator.Handle(ctx, declined)
	require.NoError(t, result.Err)
	assert.Equal(t, domain.StageDone, result.Stage)
	assert.Equal(t, domain.ApplyApplied, result.Apply)
	assert.False(t, result.OrderCreated)

	result = h.orchestrator.Handle(ctx, authEvent("evt_paid"))
	require.NoError(t, result.Err)
	assert.Equal(t, domain.StageDone, result.Stage)
	assert.Equal(t, domain.ApplyApplied, result.Apply)
	assert.True(t, result.OrderCreated)

	p, err := h.ledger.Get(ctx, "pay-1")
	require.NoError(t, err)
	auth := p.SuccessfulAuthorization()
	require.NotNil(t, auth)
	assert.Equal(t, "pi_test", auth.InteractionID)
	assert.Equal(t, "order-1", p.OrderID)

	idx := p.FindTransaction(domain.TransactionTypeAuthorization, "declined:evt_declined")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, domain.TransactionStateFailure, p.Transactions[idx].State)
	h.orders.AssertExpectations(t)
}

// brokenInbox fails the writes selected by its flags
type brokenInbox struct {
	ports.EventInbox
	failRecord     bool
	failMarkFailed bool
}

func (b *brokenInbox) Record(ctx context.Context, event domain.PaymentEvent) (*domain.InboxEvent, error) {
	if b.failRecord {
		return nil, errors.New("connection refused")
	}
	return b.EventInbox.Record(ctx, event)
}

func (b *brokenInbox) MarkFailed(ctx context.Context, eventID string, cause error, retryable bool) error {
	if b.failMarkFailed {
		return errors.New("connection refused")
	}
	return b.EventInbox.MarkFailed(ctx, eventID, cause, retryable)
}

func TestHandle_UnrecordedRetryableFailureIsNotAcknowledged(t *testing.T) {
	seed := fixtures.NewPayment().WithID("pay-1").Authorized().WithOrder("order-1").Build()
	h := newHarnessWithInbox(t, func(in ports.EventInbox) ports.EventInbox {
		return &brokenInbox{EventInbox: in, failRecord: true, failMarkFailed: true}
	}, seed)
	h.gateway.SetRefundResponse(nil, gwerrors.NewGatewayError("api_error", "unavailable", gwerrors.CategorySystemError, true))

	result := h.orchestrator.Handle(context.Background(), refundEvent("evt_refund", 1000, 0))

	assert.True(t, result.Failed())
	assert.True(t, result.Retryable)
	assert.True(t, result.Unrecorded)
	assert.False(t, result.Acknowledge())
}

func TestHandle_InboxRecordFailureStillAcknowledges(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		seed := fixtures.NewPayment().WithID("pay-1").Authorized().WithOrder("order-1").Build()
		h := newHarnessWithInbox(t, func(in ports.EventInbox) ports.EventInbox {
			return &brokenInbox{EventInbox: in, failRecord: true}
		}, seed)

		result := h.orchestrator.Handle(context.Background(), refundEvent("evt_refund", 1000, 0))
		require.NoError(t, result.Err)
		assert.True(t, result.Acknowledge())
	})

	t.Run("terminal failure", func(t *testing.T) {
		h := newHarnessWithInbox(t, func(in ports.EventInbox) ports.EventInbox {
			return &brokenInbox{EventInbox: in, failRecord: true, failMarkFailed: true}
		}, fixtures.NewPayment().WithID("pay-1").Build())

		result := h.orchestrator.Handle(context.Background(), refundEvent("evt_refund", 1000, 0))
		assert.True(t, result.Failed())
		assert.False(t, result.Retryable)
		assert.True(t, result.Acknowledge())
	})
}

func TestHandle_TransientFailureIsRedriven(t *testing.T) {
	seed := fixtures.NewPayment().WithID("pay-1").Authorized().WithOrder("order-1").Build()
	h := newHarness(t, seed)
	ctx := context.Background()
	h.gateway.SetRefundResponse(nil, gwerrors.NewGatewayError("api_error", "unavailable", gwerrors.CategorySystemError, true))

	result := h.orchestrator.Handle(ctx, refundEvent("evt_refund", 1000, 0))
	assert.True(t, result.Failed())
	assert.Equal(t, domain.StageDispatched, result.FailedAt)
	assert.True(t, result.Retryable)
	assert.True(t, result.Acknowledge())

	entry, err := h.inbox.Get(ctx, "evt_refund")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)

	h.gateway.Reset()
	summary, err := h.redriver.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RedriveSummary{Replayed: 1, Succeeded: 1}, summary)

	entry, err = h.inbox.Get(ctx, "evt_refund")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStatusDone, entry.Status)
}

func TestHandle_OrderFailureIsRetryable(t *testing.T) {
	h := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())
	ctx := context.Background()
	h.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("", errors.New("timeout")).Once()
	h.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("order-9", nil).Once()

	result := h.orchestrator.Handle(ctx, authEvent("evt_1"))
	assert.True(t, result.Failed())
	assert.Equal(t, domain.StageApplied, result.FailedAt)
	assert.True(t, errors.Is(result.Err, domain.ErrOrderCreationFailed))
	assert.True(t, result.Retryable)

	// gateway redelivery
	result = h.orchestrator.Handle(ctx, authEvent("evt_1"))
	require.NoError(t, result.Err)
	assert.Equal(t, domain.ApplyDeduped, result.Apply)
	assert.True(t, result.OrderCreated)
	h.orders.AssertExpectations(t)
}

func TestHandle_ConcurrentDuplicateDeliveries(t *testing.T) {
	h := newHarness(t, fixtures.NewPayment().WithID("pay-1").Build())
	ctx := context.Background()
	h.orders.On("CreateOrder", mock.Anything, "cart-1", "pay-1").Return("order-1", nil)

	const deliveries = 8
	results := make([]domain.ReconciliationResult, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.orchestrator.Handle(ctx, authEvent("evt_1"))
		}(i)
	}
	wg.Wait()

	applied, created := 0, 0
	for _, r := range results {
		assert.True(t, r.Acknowledge())
		assert.Equal(t, domain.StageDone, r.Stage, "err: %v", r.Err)
		if r.Apply == domain.ApplyApplied {
			applied++
		}
		if r.OrderCreated {
			created++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, created)
	h.orders.AssertNumberOfCalls(t, "CreateOrder", 1)

	p, err := h.ledger.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Len(t, p.Transactions, 1)
	assert.Equal(t, "order-1", p.OrderID)
}
