package domain

import (
	"time"
)

// TransactionType represents the kind of ledger entry recorded on a payment
type TransactionType string

const (
	TransactionTypeAuthorization       TransactionType = "Authorization"
	TransactionTypeCharge              TransactionType = "Charge"
	TransactionTypeRefund              TransactionType = "Refund"
	TransactionTypeCancelAuthorization TransactionType = "CancelAuthorization"
)

// Valid reports whether t is one of the known transaction types
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeAuthorization, TransactionTypeCharge,
		TransactionTypeRefund, TransactionTypeCancelAuthorization:
		return true
	}
	return false
}

// TransactionState is the lifecycle state of a single transaction
type TransactionState string

const (
	TransactionStateInitial TransactionState = "Initial"
	TransactionStatePending TransactionState = "Pending"
	TransactionStateSuccess TransactionState = "Success"
	TransactionStateFailure TransactionState = "Failure"
)

// IsTerminal returns true for Success and Failure
func (s TransactionState) IsTerminal() bool {
	return s == TransactionStateSuccess || s == TransactionStateFailure
}

// CanTransitionTo reports whether moving from s to next is a forward step.
// Initial -> Pending|Success|Failure, Pending -> Success|Failure.
func (s TransactionState) CanTransitionTo(next TransactionState) bool {
	switch s {
	case TransactionStateInitial:
		return next == TransactionStatePending || next.IsTerminal()
	case TransactionStatePending:
		return next.IsTerminal()
	default:
		return false
	}
}

// Transaction is one entry in a payment's ledger. Type, amount and
// interaction id never change once recorded; only the state moves forward.
type Transaction struct {
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Type          TransactionType  `json:"type"`
	State         TransactionState `json:"state"`
	InteractionID string           `json:"interaction_id"` // gateway object id (intent, refund, ...)
	Amount        Money            `json:"amount"`
}

// IsSuccess returns true if the transaction settled successfully
func (t *Transaction) IsSuccess() bool {
	return t.State == TransactionStateSuccess
}

// SameIdentity reports whether both transactions describe the same gateway interaction
func (t *Transaction) SameIdentity(other Transaction) bool {
	return t.Type == other.Type && t.InteractionID == other.InteractionID
}
