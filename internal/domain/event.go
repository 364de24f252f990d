package domain

import (
	"time"
)

// EventType is the closed set of gateway notifications the reconciler understands
type EventType string

const (
	EventAuthorizationSucceeded   EventType = "authorization-succeeded"
	EventAuthorizationFailed      EventType = "authorization-failed"
	EventChargeSucceeded          EventType = "charge-succeeded"
	EventChargeRefunded           EventType = "charge-refunded"
	EventCaptureRequiredSucceeded EventType = "capture-required-succeeded"
	EventCanceled                 EventType = "canceled"
	EventUnsupported              EventType = "unsupported"
)

// PaymentEvent is one gateway notification after signature verification and
// decoding. Amounts are in minor units.
type PaymentEvent struct {
	OccurredAt             time.Time `json:"occurred_at"`
	PreviousCaptured       *bool     `json:"previous_captured,omitempty"`
	PreviousAmountRefunded *int64    `json:"previous_amount_refunded,omitempty"`
	EventID                string    `json:"event_id"`
	Type                   EventType `json:"type"`
	RawType                string    `json:"raw_type,omitempty"`
	SubjectID              string    `json:"subject_id"` // gateway payment reference
	PaymentID              string    `json:"payment_id,omitempty"`
	Currency               string    `json:"currency"`
	Amount                 int64     `json:"amount"`
	AmountRefunded         int64     `json:"amount_refunded,omitempty"`
	RefundID               string    `json:"refund_id,omitempty"` // newest refund on the charge
	Captured               bool      `json:"captured"`
}
