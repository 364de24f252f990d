// Package redis implements the ledger store on Redis using WATCH/MULTI for
// optimistic concurrency.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

// Config contains Redis connection settings
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // namespaces keys when the instance is shared
}

// NewClient creates a Redis client and checks connectivity
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// LedgerStore keeps each payment as one JSON document. The version check and
// write happen in a WATCHed transaction, so a concurrent writer aborts ours.
type LedgerStore struct {
	client *redis.Client
	prefix string
}

var _ ports.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a Redis ledger store
func NewLedgerStore(client *redis.Client, keyPrefix string) *LedgerStore {
	return &LedgerStore{client: client, prefix: keyPrefix}
}

func (s *LedgerStore) paymentKey(id string) string {
	return s.prefix + "payment:" + id
}

func (s *LedgerStore) referenceKey(ref string) string {
	return s.prefix + "payment:ref:" + ref
}

func (s *LedgerStore) Create(ctx context.Context, payment *domain.Payment) error {
	stored := payment.Clone()
	if stored.Version < 1 {
		stored.Version = 1
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}

	pk, rk := s.paymentKey(stored.ID), s.referenceKey(stored.GatewayReference)
	exists := domain.ErrPaymentExists.
		WithDetail("payment_id", stored.ID).
		WithDetail("gateway_reference", stored.GatewayReference)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, pk, rk).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return exists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pk, data, 0)
			pipe.Set(ctx, rk, stored.ID, 0)
			return nil
		})
		return err
	}, pk, rk)

	if errors.Is(err, redis.TxFailedErr) {
		return exists
	}
	return storeError("create payment", err)
}

func (s *LedgerStore) Get(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, storeError("get payment", err)
	}
	return payment, nil
}

func (s *LedgerStore) GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error) {
	id, err := s.client.Get(ctx, s.referenceKey(reference)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrPaymentNotFound.WithDetail("gateway_reference", reference)
	}
	if err != nil {
		return nil, storeError("get payment reference", err)
	}
	return s.Get(ctx, id)
}

// Save replaces the payment document if its version still equals
// expectedVersion. A write by another client between WATCH and EXEC is
// reported as a version conflict.
func (s *LedgerStore) Save(ctx context.Context, payment *domain.Payment, expectedVersion int64) (*domain.Payment, error) {
	pk := s.paymentKey(payment.ID)
	var saved *domain.Payment

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return domain.ErrVersionConflict.
				WithDetail("payment_id", payment.ID).
				WithDetail("expected_version", expectedVersion).
				WithDetail("actual_version", current.Version)
		}

		next := payment.Clone()
		next.Version = expectedVersion + 1
		next.GatewayReference = current.GatewayReference
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode payment: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pk, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		saved = next
		return nil
	}, pk)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, domain.ErrVersionConflict.
			WithDetail("payment_id", payment.ID).
			WithDetail("expected_version", expectedVersion)
	}
	if err != nil {
		return nil, storeError("save payment", err)
	}
	return saved, nil
}

func (s *LedgerStore) read(ctx context.Context, c redis.Cmdable, id string) (*domain.Payment, error) {
	data, err := c.Get(ctx, s.paymentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	if err != nil {
		return nil, err
	}

	var payment domain.Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return &payment, nil
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.WrapError(domain.ErrorCodeDatabaseError, op, err)
}
