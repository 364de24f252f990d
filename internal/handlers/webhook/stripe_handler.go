// Package webhook receives gateway webhook deliveries over HTTP.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	stripego "github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/adapters/stripe"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
	"github.com/kevin07696/payment-reconciler/pkg/shutdown"
)

// maxBodyBytes caps webhook payloads; Stripe events are well under this
const maxBodyBytes = 65536

// EventVerifier authenticates a delivery and parses the Stripe event
type EventVerifier interface {
	Verify(payload []byte, signature string) (stripego.Event, error)
}

// Reconciler handles one decoded event
type Reconciler interface {
	Handle(ctx context.Context, event domain.PaymentEvent) domain.ReconciliationResult
}

// StripeHandler serves POST /webhooks/stripe.
//
// Once the signature checks out the delivery is acknowledged with 200. Failed
// events stay in the inbox and are redriven. The exception is a retryable
// failure the inbox could not store: it gets 503 so Stripe redelivers it.
type StripeHandler struct {
	verifier   EventVerifier
	reconciler Reconciler
	tracker    *shutdown.InFlightTracker
	timeouts   *resilience.TimeoutConfig
	logger     *zap.Logger
}

// NewStripeHandler creates the Stripe webhook handler
func NewStripeHandler(
	verifier EventVerifier,
	reconciler Reconciler,
	tracker *shutdown.InFlightTracker,
	timeouts *resilience.TimeoutConfig,
	logger *zap.Logger,
) *StripeHandler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &StripeHandler{
		verifier:   verifier,
		reconciler: reconciler,
		tracker:    tracker,
		timeouts:   timeouts,
		logger:     logger,
	}
}

type ackResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *StripeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Stripe retries 503s, so deliveries refused during shutdown are not lost
	if !h.tracker.Add() {
		observability.RecordWebhookDelivery("shutting_down")
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.tracker.Done()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			observability.RecordWebhookDelivery("too_large")
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		observability.RecordWebhookDelivery("read_error")
		h.logger.Warn("Failed to read webhook body", zap.Error(err))
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get(stripe.SignatureHeader))
	if err != nil {
		observability.RecordWebhookDelivery("invalid_signature")
		h.logger.Warn("Webhook signature verification failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	decoded, err := stripe.DecodeEvent(event)
	if err != nil {
		// Redelivery cannot fix a payload we cannot read
		observability.RecordWebhookDelivery("malformed")
		h.logger.Error("Failed to decode webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		h.writeAck(w, ackResponse{Received: true, EventID: event.ID, Stage: string(domain.StageFailed)})
		return
	}

	// The client hanging up must not abort a half-applied reconciliation
	ctx, cancel := h.timeouts.WebhookContext(context.WithoutCancel(r.Context()))
	defer cancel()

	result := h.reconciler.Handle(ctx, decoded)

	status := "processed"
	code := http.StatusOK
	switch {
	case !result.Acknowledge():
		status = "unrecorded"
		code = http.StatusServiceUnavailable
		h.logger.Error("Refusing webhook delivery the inbox could not store",
			zap.String("event_id", decoded.EventID),
			zap.String("event_type", string(decoded.Type)),
			zap.String("failed_at", string(result.FailedAt)),
			zap.Error(result.Err),
		)
	case result.Failed():
		status = "failed"
	}
	observability.RecordWebhookDelivery(status)

	h.writeResponse(w, code, ackResponse{
		Received:  result.Acknowledge(),
		EventID:   decoded.EventID,
		Stage:     string(result.Stage),
		Retryable: result.Retryable,
	})
}

func (h *StripeHandler) writeAck(w http.ResponseWriter, resp ackResponse) {
	h.writeResponse(w, http.StatusOK, resp)
}

func (h *StripeHandler) writeResponse(w http.ResponseWriter, code int, resp ackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("Failed to write webhook ack", zap.Error(err))
	}
}
