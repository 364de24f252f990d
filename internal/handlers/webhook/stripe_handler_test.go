package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/adapters/stripe"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
	"github.com/kevin07696/payment-reconciler/pkg/shutdown"
)

const secret = "whsec_handler_test"

const succeededPayload = `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","created":1736942400,
"data":{"object":{"id":"pi_1","object":"payment_intent","amount":45600,"amount_received":45600,"currency":"mxn","status":"succeeded","metadata":{"payment_id":"pay-1"}}}}`

type recordingReconciler struct {
	mu     sync.Mutex
	events []domain.PaymentEvent
	result domain.ReconciliationResult
	ctxErr error
}

func (r *recordingReconciler) Handle(ctx context.Context, event domain.PaymentEvent) domain.ReconciliationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.ctxErr = ctx.Err()
	res := r.result
	res.EventID = event.EventID
	return res
}

func (r *recordingReconciler) Events() []domain.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PaymentEvent(nil), r.events...)
}

func newTestHandler(reconciler Reconciler) (*StripeHandler, *shutdown.InFlightTracker) {
	tracker := shutdown.NewInFlightTracker("webhooks", zap.NewNop())
	return NewStripeHandler(
		stripe.NewWebhookVerifier(secret, 0),
		reconciler,
		tracker,
		resilience.TestTimeoutConfig(),
		zap.NewNop(),
	), tracker
}

func signedRequest(payload string, signingSecret string) *http.Request {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    signingSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set(stripe.SignatureHeader, signed.Header)
	return req
}

func TestStripeHandler_ReconcilesVerifiedEvent(t *testing.T) {
	reconciler := &recordingReconciler{result: domain.ReconciliationResult{Stage: domain.StageDone}}
	handler, _ := newTestHandler(reconciler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(succeededPayload, secret))

	require.Equal(t, http.StatusOK, rec.Code)

	var body ackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Received)
	assert.Equal(t, "evt_1", body.EventID)
	assert.Equal(t, "done", body.Stage)

	events := reconciler.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAuthorizationSucceeded, events[0].Type)
	assert.Equal(t, "pi_1", events[0].SubjectID)
	assert.Equal(t, "pay-1", events[0].PaymentID)
	assert.NoError(t, reconciler.ctxErr)
}

func TestStripeHandler_AcknowledgesFailedReconciliation(t *testing.T) {
	reconciler := &recordingReconciler{result: domain.ReconciliationResult{
		Stage:     domain.StageFailed,
		FailedAt:  domain.StageDispatched,
		Retryable: true,
		Err:       domain.ErrTransientGateway,
	}}
	handler, _ := newTestHandler(reconciler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(succeededPayload, secret))

	require.Equal(t, http.StatusOK, rec.Code)

	var body ackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Received)
	assert.True(t, body.Retryable)
	assert.Equal(t, "failed", body.Stage)
}

func TestStripeHandler_RefusesUnrecordedRetryableFailure(t *testing.T) {
	reconciler := &recordingReconciler{result: domain.ReconciliationResult{
		Stage:      domain.StageFailed,
		FailedAt:   domain.StageDispatched,
		Retryable:  true,
		Unrecorded: true,
		Err:        domain.ErrTransientGateway,
	}}
	handler, _ := newTestHandler(reconciler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(succeededPayload, secret))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body ackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Received)
	assert.True(t, body.Retryable)
	assert.Equal(t, "evt_1", body.EventID)
}

func TestStripeHandler_AcknowledgesUnrecordedTerminalFailure(t *testing.T) {
	reconciler := &recordingReconciler{result: domain.ReconciliationResult{
		Stage:      domain.StageFailed,
		FailedAt:   domain.StageDispatched,
		Unrecorded: true,
		Err:        domain.ErrNoPriorAuthorization,
	}}
	handler, _ := newTestHandler(reconciler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(succeededPayload, secret))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStripeHandler_RejectsBadSignature(t *testing.T) {
	reconciler := &recordingReconciler{}
	handler, _ := newTestHandler(reconciler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(succeededPayload, "whsec_wrong"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, reconciler.Events())
}

func TestStripeHandler_MalformedObjectIsAcknowledged(t *testing.T) {
	reconciler := &recordingReconciler{}
	handler, _ := newTestHandler(reconciler)

	payload := `{"id":"evt_2","object":"event","type":"charge.refunded","created":1736942400,"data":{"object":{"id":"ch_1","amount":"oops"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(payload, secret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, reconciler.Events())
}

func TestStripeHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(&recordingReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStripeHandler_PayloadTooLarge(t *testing.T) {
	handler, _ := newTestHandler(&recordingReconciler{})

	big := `{"id":"evt_3","padding":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(big, secret))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStripeHandler_RefusesDuringShutdown(t *testing.T) {
	reconciler := &recordingReconciler{}
	handler, tracker := newTestHandler(reconciler)
	require.NoError(t, tracker.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(succeededPayload, secret))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, reconciler.Events())
}
