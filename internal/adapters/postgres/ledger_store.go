package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/payment-reconciler/internal/converters"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

const (
	paymentColumns = `id, version, gateway_reference, cart_id, amount_cents, currency_code,
		fraction_digits, order_created, order_id, created_at, updated_at`

	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	// Version check and bump in one statement; zero rows means stale or missing
	updatePaymentSQL = `UPDATE payments
		SET version = version + 1, cart_id = $3, order_created = $4, order_id = $5, updated_at = $6
		WHERE id = $1 AND version = $2`

	upsertTransactionSQL = `INSERT INTO payment_transactions (payment_id, position, type, state,
		interaction_id, amount_cents, currency_code, fraction_digits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id, position)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	selectTransactionsSQL = `SELECT type, state, interaction_id, amount_cents, currency_code,
		fraction_digits, created_at, updated_at
		FROM payment_transactions WHERE payment_id = $1 ORDER BY position`
)

// LedgerStore persists payments in PostgreSQL. Save is a compare-and-swap on
// the payments.version column.
type LedgerStore struct {
	db *DBExecutor
}

var _ ports.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a PostgreSQL ledger store
func NewLedgerStore(db *DBExecutor) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Create(ctx context.Context, payment *domain.Payment) error {
	version := payment.Version
	if version < 1 {
		version = 1
	}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertPaymentSQL,
			payment.ID,
			version,
			payment.GatewayReference,
			converters.ToNullableText(payment.CartID),
			payment.AmountPlanned.CentAmount,
			payment.AmountPlanned.CurrencyCode,
			payment.AmountPlanned.FractionDigits,
			payment.OrderCreated,
			converters.ToNullableText(payment.OrderID),
			payment.CreatedAt.UTC(),
			payment.UpdatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrPaymentExists.
					WithDetail("payment_id", payment.ID).
					WithDetail("gateway_reference", payment.GatewayReference)
			}
			return err
		}
		return writeTransactions(ctx, tx, payment.ID, payment.Transactions)
	})
	return dbError("create payment", err)
}

func (s *LedgerStore) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return s.load(ctx, "id", id)
}

func (s *LedgerStore) GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return s.load(ctx, "gateway_reference", reference)
}

// Save writes payment if the stored version still equals expectedVersion.
// Existing transactions only ever change state; new ones are appended.
func (s *LedgerStore) Save(ctx context.Context, payment *domain.Payment, expectedVersion int64) (*domain.Payment, error) {
	var saved *domain.Payment

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updatePaymentSQL,
			payment.ID,
			expectedVersion,
			converters.ToNullableText(payment.CartID),
			payment.OrderCreated,
			converters.ToNullableText(payment.OrderID),
			payment.UpdatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return s.saveMiss(ctx, tx, payment.ID, expectedVersion)
		}

		if err := writeTransactions(ctx, tx, payment.ID, payment.Transactions); err != nil {
			return err
		}

		saved, err = loadPayment(ctx, tx, "id", payment.ID)
		return err
	})
	if err != nil {
		return nil, dbError("save payment", err)
	}
	return saved, nil
}

// saveMiss explains why the conditional update matched no row
func (s *LedgerStore) saveMiss(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64) error {
	var actual int64
	err := tx.QueryRow(ctx, `SELECT version FROM payments WHERE id = $1`, id).Scan(&actual)
	if isNoRows(err) {
		return domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	if err != nil {
		return err
	}
	return domain.ErrVersionConflict.
		WithDetail("payment_id", id).
		WithDetail("expected_version", expectedVersion).
		WithDetail("actual_version", actual)
}

func (s *LedgerStore) load(ctx context.Context, column, value string) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		payment, err = loadPayment(ctx, tx, column, value)
		return err
	})
	if err != nil {
		return nil, dbError("load payment", err)
	}
	return payment, nil
}

// loadPayment reads one payment and its transactions. column is always a
// constant from this file.
func loadPayment(ctx context.Context, q ports.DBTX, column, value string) (*domain.Payment, error) {
	var (
		p         domain.Payment
		createdAt time.Time
		updatedAt time.Time
	)
	cartID := converters.ToNullableText("")
	orderID := converters.ToNullableText("")

	err := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+column+` = $1`, value).Scan(
		&p.ID,
		&p.Version,
		&p.GatewayReference,
		&cartID,
		&p.AmountPlanned.CentAmount,
		&p.AmountPlanned.CurrencyCode,
		&p.AmountPlanned.FractionDigits,
		&p.OrderCreated,
		&orderID,
		&createdAt,
		&updatedAt,
	)
	if isNoRows(err) {
		return nil, domain.ErrPaymentNotFound.WithDetail(column, value)
	}
	if err != nil {
		return nil, err
	}
	p.CartID = converters.FromNullableText(cartID)
	p.OrderID = converters.FromNullableText(orderID)
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()

	rows, err := q.Query(ctx, selectTransactionsSQL, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Transactions = []domain.Transaction{}
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.Type,
			&tx.State,
			&tx.InteractionID,
			&tx.Amount.CentAmount,
			&tx.Amount.CurrencyCode,
			&tx.Amount.FractionDigits,
			&tx.CreatedAt,
			&tx.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		tx.UpdatedAt = tx.UpdatedAt.UTC()
		p.Transactions = append(p.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// writeTransactions upserts every transaction by position in one batch
func writeTransactions(ctx context.Context, tx pgx.Tx, paymentID string, transactions []domain.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, t := range transactions {
		batch.Queue(upsertTransactionSQL,
			paymentID,
			i,
			string(t.Type),
			string(t.State),
			t.InteractionID,
			t.Amount.CentAmount,
			t.Amount.CurrencyCode,
			t.Amount.FractionDigits,
			t.CreatedAt.UTC(),
			t.UpdatedAt.UTC(),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range transactions {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
