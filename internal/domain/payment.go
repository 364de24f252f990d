package domain

import (
	"time"
)

// Money is an amount in the currency's minor units
type Money struct {
	CentAmount     int64  `json:"cent_amount"`
	CurrencyCode   string `json:"currency_code"` // ISO-4217, upper case
	FractionDigits int    `json:"fraction_digits"`
}

// Payment is the ledger record for one checkout. Transactions are kept in
// insertion order; Version increases by one on every persisted mutation.
type Payment struct {
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	ID               string        `json:"id"`
	GatewayReference string        `json:"gateway_reference"` // PaymentIntent id
	CartID           string        `json:"cart_id"`
	OrderID          string        `json:"order_id,omitempty"`
	AmountPlanned    Money         `json:"amount_planned"`
	Transactions     []Transaction `json:"transactions"`
	Version          int64         `json:"version"`
	OrderCreated     bool          `json:"order_created"`
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Transactions = make([]Transaction, len(p.Transactions))
	copy(cp.Transactions, p.Transactions)
	return &cp
}

// FindTransaction returns the index of the transaction with the same
// (type, interaction id) pair, or -1
func (p *Payment) FindTransaction(txType TransactionType, interactionID string) int {
	for i := range p.Transactions {
		if p.Transactions[i].Type == txType && p.Transactions[i].InteractionID == interactionID {
			return i
		}
	}
	return -1
}

// SuccessfulAuthorization returns the successful authorization, if any
func (p *Payment) SuccessfulAuthorization() *Transaction {
	for i := range p.Transactions {
		tx := &p.Transactions[i]
		if tx.Type == TransactionTypeAuthorization && tx.IsSuccess() {
			return tx
		}
	}
	return nil
}
