package converters

import (
	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// commandBuilder maps one event type onto a ModifyPayment. A nil command with
// a nil error means the event carries no ledger change.
type commandBuilder func(event domain.PaymentEvent) (*domain.ModifyPayment, error)

// eventMapping is the complete table of handled event types. Anything absent
// converts to a no-op.
var eventMapping = map[domain.EventType]commandBuilder{
	domain.EventAuthorizationSucceeded: func(e domain.PaymentEvent) (*domain.ModifyPayment, error) {
		return newCommand(e, domain.ActionAuthorize, domain.CommandSucceeded, e.Amount)
	},
	domain.EventAuthorizationFailed: func(e domain.PaymentEvent) (*domain.ModifyPayment, error) {
		return newCommand(e, domain.ActionAuthorize, domain.CommandFailed, e.Amount)
	},
	domain.EventCaptureRequiredSucceeded: func(e domain.PaymentEvent) (*domain.ModifyPayment, error) {
		if e.Captured {
			return nil, nil
		}
		return newCommand(e, domain.ActionAuthorize, domain.CommandSucceeded, e.Amount)
	},
	domain.EventChargeSucceeded: func(e domain.PaymentEvent) (*domain.ModifyPayment, error) {
		if !e.Captured {
			return nil, nil
		}
		return newCommand(e, domain.ActionCapture, domain.CommandSucceeded, e.Amount)
	},
	domain.EventChargeRefunded: func(e domain.PaymentEvent) (*domain.ModifyPayment, error) {
		delta := RefundDelta(e)
		if delta <= 0 {
			return nil, nil
		}
		cmd, err := newCommand(e, domain.ActionRefund, domain.CommandSucceeded, delta)
		if err != nil {
			return nil, err
		}
		cmd.RefundID = e.RefundID
		cmd.RefundedTotal = e.AmountRefunded
		return cmd, nil
	},
	domain.EventCanceled: func(e domain.PaymentEvent) (*domain.ModifyPayment, error) {
		return newCommand(e, domain.ActionCancel, domain.CommandSucceeded, 0)
	},
}

// ConvertEvent maps a gateway event to the canonical ModifyPayment command.
// It is deterministic and has no side effects; (nil, nil) means no-op.
func ConvertEvent(event domain.PaymentEvent) (*domain.ModifyPayment, error) {
	if event.EventID == "" {
		return nil, domain.ErrMalformedEvent.WithDetail("reason", "missing event id")
	}

	build, ok := eventMapping[event.Type]
	if !ok {
		return nil, nil
	}
	return build(event)
}

// RefundDelta returns the amount refunded by this event: the cumulative
// refunded amount minus the cumulative amount before the event. Without a
// previous value the whole cumulative amount is treated as new.
func RefundDelta(event domain.PaymentEvent) int64 {
	if event.PreviousAmountRefunded == nil {
		return event.AmountRefunded
	}
	return event.AmountRefunded - *event.PreviousAmountRefunded
}

func newCommand(e domain.PaymentEvent, action domain.PaymentAction, outcome domain.CommandOutcome, amount int64) (*domain.ModifyPayment, error) {
	if e.SubjectID == "" && e.PaymentID == "" {
		return nil, domain.ErrMalformedEvent.
			WithDetail("reason", "missing payment reference").
			WithDetail("event_id", e.EventID)
	}

	money, err := NormalizeAmount(amount, e.Currency)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeMalformedEvent, "invalid event amount", err).
			WithDetail("event_id", e.EventID)
	}

	return &domain.ModifyPayment{
		PaymentID:        e.PaymentID,
		GatewayReference: e.SubjectID,
		EventID:          e.EventID,
		EventType:        e.Type,
		Action:           action,
		Outcome:          outcome,
		Amount:           money,
	}, nil
}
