package stripe

import (
	"encoding/json"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// Intent metadata keys written by the reconciler
const (
	MetadataPaymentID = "payment_id"  // ledger payment id
	MetadataOrderID   = "ct_order_id" // commerce order id
)

// Stripe event types the reconciler consumes
const (
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
	EventPaymentIntentCapturable    = "payment_intent.amount_capturable_updated"
	EventPaymentIntentCanceled      = "payment_intent.canceled"
	EventChargeSucceeded            = "charge.succeeded"
	EventChargeCaptured             = "charge.captured"
	EventChargeRefunded             = "charge.refunded"
)

// DecodeEvent maps a verified Stripe event onto a domain PaymentEvent.
// Types the reconciler does not consume decode to EventUnsupported.
func DecodeEvent(event stripe.Event) (domain.PaymentEvent, error) {
	out := domain.PaymentEvent{
		EventID:    event.ID,
		RawType:    string(event.Type),
		Type:       domain.EventUnsupported,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.ID == "" {
		return out, domain.ErrMalformedEvent.WithDetail("reason", "missing event id")
	}

	switch string(event.Type) {
	case EventPaymentIntentSucceeded, EventPaymentIntentPaymentFailed,
		EventPaymentIntentCapturable, EventPaymentIntentCanceled:
		intent, err := decodeObject[stripe.PaymentIntent](event)
		if err != nil {
			return out, err
		}
		fromIntent(&out, string(event.Type), intent)

	case EventChargeSucceeded, EventChargeCaptured, EventChargeRefunded:
		charge, err := decodeObject[stripe.Charge](event)
		if err != nil {
			return out, err
		}
		fromCharge(&out, string(event.Type), charge, previousAttributes(event))
	}

	return out, nil
}

func fromIntent(out *domain.PaymentEvent, eventType string, intent *stripe.PaymentIntent) {
	out.SubjectID = intent.ID
	out.PaymentID = intent.Metadata[MetadataPaymentID]
	out.Currency = string(intent.Currency)
	out.Amount = intent.Amount

	switch eventType {
	case EventPaymentIntentSucceeded:
		out.Type = domain.EventAuthorizationSucceeded
		out.Captured = true
		if intent.AmountReceived > 0 {
			out.Amount = intent.AmountReceived
		}
	case EventPaymentIntentPaymentFailed:
		out.Type = domain.EventAuthorizationFailed
	case EventPaymentIntentCapturable:
		out.Type = domain.EventCaptureRequiredSucceeded
		out.Amount = intent.AmountCapturable
	case EventPaymentIntentCanceled:
		out.Type = domain.EventCanceled
	}
}

func fromCharge(out *domain.PaymentEvent, eventType string, charge *stripe.Charge, previous map[string]interface{}) {
	if charge.PaymentIntent != nil {
		out.SubjectID = charge.PaymentIntent.ID
	}
	out.PaymentID = charge.Metadata[MetadataPaymentID]
	out.Currency = string(charge.Currency)
	out.Amount = charge.Amount
	out.Captured = charge.Captured

	switch eventType {
	case EventChargeSucceeded:
		if charge.Captured {
			out.Type = domain.EventChargeSucceeded
		} else {
			out.Type = domain.EventCaptureRequiredSucceeded
		}
	case EventChargeCaptured:
		out.Type = domain.EventChargeSucceeded
		if charge.AmountCaptured > 0 {
			out.Amount = charge.AmountCaptured
		}
		if captured, ok := previous["captured"].(bool); ok {
			out.PreviousCaptured = &captured
		}
	case EventChargeRefunded:
		out.Type = domain.EventChargeRefunded
		out.AmountRefunded = charge.AmountRefunded
		// JSON numbers decode as float64
		if refunded, ok := previous["amount_refunded"].(float64); ok {
			prev := int64(refunded)
			out.PreviousAmountRefunded = &prev
		}
		if newest := newestRefund(charge); newest != nil {
			out.RefundID = newest.ID
		}
	}
}

// newestRefund returns the latest refund in the charge snapshot. Stripe only
// embeds the refund list on older API versions, so it is often absent.
func newestRefund(charge *stripe.Charge) *stripe.Refund {
	if charge.Refunds == nil {
		return nil
	}
	var newest *stripe.Refund
	for _, r := range charge.Refunds.Data {
		if r != nil && (newest == nil || r.Created > newest.Created) {
			newest = r
		}
	}
	return newest
}

func decodeObject[T any](event stripe.Event) (*T, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, domain.ErrMalformedEvent.
			WithDetail("reason", "event has no data object").
			WithDetail("event_id", event.ID)
	}

	var obj T
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeMalformedEvent, "failed to decode event object", err).
			WithDetail("event_id", event.ID)
	}
	return &obj, nil
}

func previousAttributes(event stripe.Event) map[string]interface{} {
	if event.Data == nil {
		return nil
	}
	return event.Data.PreviousAttributes
}
