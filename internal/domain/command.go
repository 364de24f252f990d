package domain

// PaymentAction is the ledger operation a ModifyPayment command requests
type PaymentAction string

const (
	ActionAuthorize PaymentAction = "Authorize"
	ActionCapture   PaymentAction = "Capture"
	ActionCancel    PaymentAction = "Cancel"
	ActionRefund    PaymentAction = "Refund"
)

// TransactionType maps the action onto the ledger entry it produces
func (a PaymentAction) TransactionType() TransactionType {
	switch a {
	case ActionAuthorize:
		return TransactionTypeAuthorization
	case ActionCapture:
		return TransactionTypeCharge
	case ActionCancel:
		return TransactionTypeCancelAuthorization
	case ActionRefund:
		return TransactionTypeRefund
	}
	return ""
}

// CommandOutcome tells the dispatcher whether the event reported success or failure
type CommandOutcome string

const (
	CommandSucceeded CommandOutcome = "succeeded"
	CommandFailed    CommandOutcome = "failed"
)

// ModifyPayment is the canonical command derived from one gateway event.
// At least one of PaymentID and GatewayReference is set.
type ModifyPayment struct {
	PaymentID        string         `json:"payment_id,omitempty"`
	GatewayReference string         `json:"gateway_reference,omitempty"`
	EventID          string         `json:"event_id"`
	EventType        EventType      `json:"event_type"`
	Action           PaymentAction  `json:"action"`
	Outcome          CommandOutcome `json:"outcome"`
	Amount           Money          `json:"amount"`

	// Refund commands only
	RefundID      string `json:"refund_id,omitempty"`
	RefundedTotal int64  `json:"refunded_total,omitempty"`
}

// PaymentOutcome is the typed result of a modification request
type PaymentOutcome string

const (
	OutcomeApproved PaymentOutcome = "Approved"
	OutcomeRejected PaymentOutcome = "Rejected"
	OutcomeReceived PaymentOutcome = "Received"
)

// ApplyOutcome distinguishes a ledger mutation from an absorbed duplicate
type ApplyOutcome string

const (
	ApplyApplied ApplyOutcome = "applied"
	ApplyDeduped ApplyOutcome = "deduped"
)

// PaymentProviderModificationResponse reports what the dispatcher did
type PaymentProviderModificationResponse struct {
	Payment      *Payment       `json:"payment"`
	Transaction  Transaction    `json:"transaction"`
	Outcome      PaymentOutcome `json:"outcome"`
	PSPReference string         `json:"psp_reference"`
	Apply        ApplyOutcome   `json:"apply"`
}
