package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainError_ErrorsIsMatchesCode(t *testing.T) {
	detailed := ErrVersionConflict.WithDetail("payment_id", "pay_1")
	wrapped := fmt.Errorf("apply refund: %w", detailed)

	if !errors.Is(wrapped, ErrVersionConflict) {
		t.Errorf("expected wrapped detail error to match ErrVersionConflict")
	}
	if errors.Is(wrapped, ErrDuplicateAuthorization) {
		t.Errorf("expected no match against a different code")
	}
	if GetErrorCode(wrapped) != ErrorCodeVersionConflict {
		t.Errorf("GetErrorCode = %q", GetErrorCode(wrapped))
	}
}

func TestDomainError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrNoPriorAuthorization.WithDetail("transaction_type", "Refund")

	if len(ErrNoPriorAuthorization.Details) != 0 {
		t.Errorf("sentinel details mutated: %v", ErrNoPriorAuthorization.Details)
	}
}

func TestDomainError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrorCodeDatabaseError, "failed to load payment", cause)

	if !strings.Contains(err.Error(), "INTERNAL_DATABASE_ERROR") {
		t.Errorf("missing code in %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be unwrapped")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"version_conflict", ErrVersionConflict, true},
		{"transient_gateway", ErrTransientGateway, true},
		{"order_creation_failed", ErrOrderCreationFailed, true},
		{"reconciliation_failed", ErrReconciliationFailed, true},
		{"no_prior_authorization", ErrNoPriorAuthorization, false},
		{"payment_not_found", ErrPaymentNotFound, true},
		{"unclassified", errors.New("i/o timeout"), true},
		{"malformed_event", ErrMalformedEvent, false},
		{"duplicate_authorization", ErrDuplicateAuthorization, false},
		{"amount_exceeds", ErrAmountExceedsAvailable, false},
		{"rejected_by_gateway", ErrRejectedByGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransactionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TransactionState
		want     bool
	}{
		{TransactionStateInitial, TransactionStatePending, true},
		{TransactionStateInitial, TransactionStateSuccess, true},
		{TransactionStateInitial, TransactionStateFailure, true},
		{TransactionStatePending, TransactionStateSuccess, true},
		{TransactionStatePending, TransactionStateFailure, true},
		{TransactionStatePending, TransactionStateInitial, false},
		{TransactionStateSuccess, TransactionStateFailure, false},
		{TransactionStateFailure, TransactionStateSuccess, false},
		{TransactionStateSuccess, TransactionStateSuccess, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayment_CloneIsDeep(t *testing.T) {
	p := &Payment{
		ID: "pay_1",
		Transactions: []Transaction{
			{Type: TransactionTypeAuthorization, State: TransactionStateInitial, InteractionID: "pi_1"},
		},
	}

	cp := p.Clone()
	cp.Transactions[0].State = TransactionStateSuccess

	if p.Transactions[0].State != TransactionStateInitial {
		t.Errorf("clone shares transaction storage with original")
	}
	if p.FindTransaction(TransactionTypeAuthorization, "pi_1") != 0 {
		t.Errorf("expected authorization at index 0")
	}
	if p.FindTransaction(TransactionTypeCharge, "pi_1") != -1 {
		t.Errorf("expected charge lookup miss")
	}
}
