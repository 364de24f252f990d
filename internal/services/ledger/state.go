package ledger

import (
	"time"

	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// LedgerState is the balance view of a payment, computed by replaying its
// transactions in insertion order.
type LedgerState struct {
	// Successful authorization (empty if none)
	AuthorizationID  string
	AuthorizedAmount int64

	// Sum of successful charges
	ChargedAmount int64
	HasCharge     bool

	// Success and Pending refunds both reserve refundable balance
	RefundedAmount int64

	IsCanceled bool
}

// ComputeLedgerState replays transactions to derive balances
func ComputeLedgerState(transactions []domain.Transaction) *LedgerState {
	state := &LedgerState{}

	for _, tx := range transactions {
		switch tx.Type {
		case domain.TransactionTypeAuthorization:
			if tx.IsSuccess() {
				state.AuthorizationID = tx.InteractionID
				state.AuthorizedAmount = tx.Amount.CentAmount
			}

		case domain.TransactionTypeCharge:
			if tx.IsSuccess() {
				state.ChargedAmount += tx.Amount.CentAmount
				state.HasCharge = true
			}

		case domain.TransactionTypeRefund:
			if tx.State == domain.TransactionStateSuccess || tx.State == domain.TransactionStatePending {
				state.RefundedAmount += tx.Amount.CentAmount
			}

		case domain.TransactionTypeCancelAuthorization:
			if tx.IsSuccess() {
				state.IsCanceled = true
			}
		}
	}

	return state
}

// RefundableBase is the amount refunds are bounded by: the charged total, or
// the authorized total for automatically captured payments with no charge entry.
func (s *LedgerState) RefundableBase() int64 {
	if s.HasCharge {
		return s.ChargedAmount
	}
	return s.AuthorizedAmount
}

// CanRecord checks whether tx may enter the ledger in its proposed state.
// Failure and Initial entries only document an attempt and are always allowed.
func (s *LedgerState) CanRecord(tx domain.Transaction) error {
	if tx.State == domain.TransactionStateFailure || tx.State == domain.TransactionStateInitial {
		return nil
	}

	switch tx.Type {
	case domain.TransactionTypeAuthorization:
		if s.AuthorizationID != "" && s.AuthorizationID != tx.InteractionID {
			return domain.ErrDuplicateAuthorization.
				WithDetail("existing_interaction_id", s.AuthorizationID).
				WithDetail("interaction_id", tx.InteractionID)
		}

	case domain.TransactionTypeCharge:
		if s.AuthorizationID == "" {
			return domain.ErrNoPriorAuthorization.WithDetail("transaction_type", string(tx.Type))
		}
		if s.IsCanceled {
			return domain.ErrNoPriorAuthorization.
				WithDetail("transaction_type", string(tx.Type)).
				WithDetail("reason", "authorization canceled")
		}
		if s.ChargedAmount+tx.Amount.CentAmount > s.AuthorizedAmount {
			return domain.ErrAmountExceedsAvailable.
				WithDetail("available", s.AuthorizedAmount-s.ChargedAmount).
				WithDetail("requested", tx.Amount.CentAmount)
		}

	case domain.TransactionTypeCancelAuthorization:
		if s.AuthorizationID == "" {
			return domain.ErrNoPriorAuthorization.WithDetail("transaction_type", string(tx.Type))
		}

	case domain.TransactionTypeRefund:
		if s.AuthorizationID == "" && !s.HasCharge {
			return domain.ErrNoPriorAuthorization.WithDetail("transaction_type", string(tx.Type))
		}
		if s.RefundedAmount+tx.Amount.CentAmount > s.RefundableBase() {
			return domain.ErrAmountExceedsAvailable.
				WithDetail("available", s.RefundableBase()-s.RefundedAmount).
				WithDetail("requested", tx.Amount.CentAmount)
		}
	}

	return nil
}

// Evaluate decides what applying proposed to payment means. It returns the
// next payment snapshot (not yet persisted) and whether it is a real mutation.
//
// A proposal matching an existing (type, interaction id) pair advances that
// entry's state when the move is forward; anything else is a duplicate.
func Evaluate(payment *domain.Payment, proposed domain.Transaction, now time.Time) (*domain.Payment, domain.ApplyOutcome, error) {
	if err := validateProposal(payment, proposed); err != nil {
		return nil, "", err
	}

	if idx := payment.FindTransaction(proposed.Type, proposed.InteractionID); idx >= 0 {
		existing := payment.Transactions[idx]
		if !existing.State.CanTransitionTo(proposed.State) {
			return payment, domain.ApplyDeduped, nil
		}

		others := make([]domain.Transaction, 0, len(payment.Transactions)-1)
		others = append(others, payment.Transactions[:idx]...)
		others = append(others, payment.Transactions[idx+1:]...)

		advanced := existing
		advanced.State = proposed.State
		if err := ComputeLedgerState(others).CanRecord(advanced); err != nil {
			return nil, "", err
		}

		next := payment.Clone()
		next.Transactions[idx].State = proposed.State
		next.Transactions[idx].UpdatedAt = now
		next.UpdatedAt = now
		return next, domain.ApplyApplied, nil
	}

	if err := ComputeLedgerState(payment.Transactions).CanRecord(proposed); err != nil {
		return nil, "", err
	}

	tx := proposed
	tx.CreatedAt = now
	tx.UpdatedAt = now

	next := payment.Clone()
	next.Transactions = append(next.Transactions, tx)
	next.UpdatedAt = now
	return next, domain.ApplyApplied, nil
}

func validateProposal(payment *domain.Payment, tx domain.Transaction) error {
	switch {
	case !tx.Type.Valid():
		return domain.ErrValidationFailed.WithDetail("reason", "unknown transaction type")
	case tx.InteractionID == "":
		return domain.ErrValidationFailed.WithDetail("reason", "missing interaction id")
	case tx.Amount.CentAmount < 0:
		return domain.ErrValidationFailed.WithDetail("reason", "negative amount")
	}

	switch tx.State {
	case domain.TransactionStateInitial, domain.TransactionStatePending,
		domain.TransactionStateSuccess, domain.TransactionStateFailure:
	default:
		return domain.ErrValidationFailed.WithDetail("reason", "unknown transaction state")
	}

	planned := payment.AmountPlanned.CurrencyCode
	if tx.Amount.CentAmount > 0 && planned != "" && tx.Amount.CurrencyCode != planned {
		return domain.ErrValidationFailed.
			WithDetail("reason", "currency mismatch").
			WithDetail("expected", planned).
			WithDetail("actual", tx.Amount.CurrencyCode)
	}
	return nil
}
