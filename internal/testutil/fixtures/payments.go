package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/payment-reconciler/internal/domain"
)

// PaymentBuilder provides fluent API for building test payments.
type PaymentBuilder struct {
	payment *domain.Payment
}

// NewPayment creates a payment builder with an Initial authorization for
// 456.00 MXN against gateway reference "pi_test".
func NewPayment() *PaymentBuilder {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	planned := MXN(45600)
	return &PaymentBuilder{
		payment: &domain.Payment{
			ID:               uuid.NewString(),
			GatewayReference: "pi_test",
			CartID:           "cart-1",
			AmountPlanned:    planned,
			Version:          1,
			Transactions: []domain.Transaction{{
				Type:          domain.TransactionTypeAuthorization,
				State:         domain.TransactionStateInitial,
				InteractionID: "pi_test",
				Amount:        planned,
				CreatedAt:     now,
				UpdatedAt:     now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *PaymentBuilder) WithID(id string) *PaymentBuilder {
	b.payment.ID = id
	return b
}

// WithGatewayReference also renames the Initial authorization's interaction id
func (b *PaymentBuilder) WithGatewayReference(ref string) *PaymentBuilder {
	for i := range b.payment.Transactions {
		tx := &b.payment.Transactions[i]
		if tx.Type == domain.TransactionTypeAuthorization && tx.InteractionID == b.payment.GatewayReference {
			tx.InteractionID = ref
		}
	}
	b.payment.GatewayReference = ref
	return b
}

func (b *PaymentBuilder) WithCartID(cartID string) *PaymentBuilder {
	b.payment.CartID = cartID
	return b
}

func (b *PaymentBuilder) WithVersion(v int64) *PaymentBuilder {
	b.payment.Version = v
	return b
}

// WithoutTransactions clears the ledger, including the Initial authorization
func (b *PaymentBuilder) WithoutTransactions() *PaymentBuilder {
	b.payment.Transactions = nil
	return b
}

// Authorized marks the Initial authorization as successful
func (b *PaymentBuilder) Authorized() *PaymentBuilder {
	return b.WithTransaction(domain.TransactionTypeAuthorization, domain.TransactionStateSuccess, b.payment.GatewayReference, b.payment.AmountPlanned.CentAmount)
}

// WithTransaction adds an entry, or updates the state of a matching one
func (b *PaymentBuilder) WithTransaction(txType domain.TransactionType, state domain.TransactionState, interactionID string, amount int64) *PaymentBuilder {
	if idx := b.payment.FindTransaction(txType, interactionID); idx >= 0 {
		b.payment.Transactions[idx].State = state
		return b
	}
	b.payment.Transactions = append(b.payment.Transactions, domain.Transaction{
		Type:          txType,
		State:         state,
		InteractionID: interactionID,
		Amount: domain.Money{
			CentAmount:     amount,
			CurrencyCode:   b.payment.AmountPlanned.CurrencyCode,
			FractionDigits: b.payment.AmountPlanned.FractionDigits,
		},
		CreatedAt: b.payment.CreatedAt,
		UpdatedAt: b.payment.UpdatedAt,
	})
	return b
}

func (b *PaymentBuilder) WithOrder(orderID string) *PaymentBuilder {
	b.payment.OrderCreated = true
	b.payment.OrderID = orderID
	return b
}

func (b *PaymentBuilder) Build() *domain.Payment {
	return b.payment.Clone()
}

// MXN returns an amount in Mexican pesos minor units
func MXN(cents int64) domain.Money {
	return domain.Money{CentAmount: cents, CurrencyCode: "MXN", FractionDigits: 2}
}
