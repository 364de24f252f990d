package converters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// InboundEvent is the gateway-neutral JSON shape accepted by the replay tooling
type InboundEvent struct {
	EventID                string      `json:"eventId"`
	Type                   string      `json:"type"`
	OccurredAt             time.Time   `json:"occurredAt"`
	SubjectID              string      `json:"subjectId"`
	PaymentID              string      `json:"paymentId,omitempty"`
	Amount                 json.Number `json:"amount"`
	Currency               string      `json:"currency"`
	CapturedFlag           bool        `json:"capturedFlag"`
	PreviousCapturedFlag   *bool       `json:"previousCapturedFlag,omitempty"`
	AmountRefunded         json.Number `json:"amountRefunded,omitempty"`
	PreviousAmountRefunded json.Number `json:"previousAmountRefunded,omitempty"`
	RefundID               string      `json:"refundId,omitempty"`
}

var knownEventTypes = map[string]domain.EventType{
	string(domain.EventAuthorizationSucceeded):   domain.EventAuthorizationSucceeded,
	string(domain.EventAuthorizationFailed):      domain.EventAuthorizationFailed,
	string(domain.EventChargeSucceeded):          domain.EventChargeSucceeded,
	string(domain.EventChargeRefunded):           domain.EventChargeRefunded,
	string(domain.EventCaptureRequiredSucceeded): domain.EventCaptureRequiredSucceeded,
	string(domain.EventCanceled):                 domain.EventCanceled,
}

// DecodeInboundEvent parses one JSON event and normalizes its amounts.
// Unknown types decode to EventUnsupported so they convert to a no-op.
func DecodeInboundEvent(data []byte) (domain.PaymentEvent, error) {
	var in InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		return domain.PaymentEvent{}, domain.WrapError(domain.ErrorCodeMalformedEvent, "invalid event json", err)
	}
	return in.ToPaymentEvent()
}

// ToPaymentEvent converts the wire shape to the domain event
func (in InboundEvent) ToPaymentEvent() (domain.PaymentEvent, error) {
	if in.EventID == "" {
		return domain.PaymentEvent{}, domain.ErrMalformedEvent.WithDetail("reason", "missing eventId")
	}

	eventType, ok := knownEventTypes[in.Type]
	if !ok {
		eventType = domain.EventUnsupported
	}

	event := domain.PaymentEvent{
		EventID:          in.EventID,
		Type:             eventType,
		RawType:          in.Type,
		OccurredAt:       in.OccurredAt.UTC(),
		SubjectID:        in.SubjectID,
		PaymentID:        in.PaymentID,
		Captured:         in.CapturedFlag,
		PreviousCaptured: in.PreviousCapturedFlag,
		RefundID:         in.RefundID,
	}

	if eventType == domain.EventUnsupported {
		return event, nil
	}

	amounts := []struct {
		raw json.Number
		dst *int64
	}{
		{in.Amount, &event.Amount},
		{in.AmountRefunded, &event.AmountRefunded},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		m, err := ParseAmount(a.raw.String(), in.Currency)
		if err != nil {
			return domain.PaymentEvent{}, domain.WrapError(domain.ErrorCodeMalformedEvent,
				fmt.Sprintf("invalid amount in event %s", in.EventID), err)
		}
		*a.dst = m.CentAmount
		event.Currency = m.CurrencyCode
	}

	if in.PreviousAmountRefunded != "" {
		m, err := ParseAmount(in.PreviousAmountRefunded.String(), in.Currency)
		if err != nil {
			return domain.PaymentEvent{}, domain.WrapError(domain.ErrorCodeMalformedEvent,
				fmt.Sprintf("invalid previous refund amount in event %s", in.EventID), err)
		}
		prev := m.CentAmount
		event.PreviousAmountRefunded = &prev
	}

	if event.Currency == "" {
		code, err := NormalizeCurrency(in.Currency)
		if err != nil {
			return domain.PaymentEvent{}, domain.WrapError(domain.ErrorCodeMalformedEvent, "invalid currency", err)
		}
		event.Currency = code
	}

	return event, nil
}
