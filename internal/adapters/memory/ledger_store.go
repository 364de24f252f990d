// Package memory provides in-process implementations of the ledger ports.
// They back tests and single-instance deployments without a database.
package memory

import (
	"context"
	"sync"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

// LedgerStore keeps payments in a map guarded by a mutex. Callers always get
// copies, so the stored aggregate only changes through Save.
type LedgerStore struct {
	mu          sync.RWMutex
	payments    map[string]*domain.Payment
	byReference map[string]string
}

var _ ports.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates an empty store
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		payments:    make(map[string]*domain.Payment),
		byReference: make(map[string]string),
	}
}

func (s *LedgerStore) Create(ctx context.Context, payment *domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.ID]; ok {
		return domain.ErrPaymentExists.WithDetail("payment_id", payment.ID)
	}
	if _, ok := s.byReference[payment.GatewayReference]; ok && payment.GatewayReference != "" {
		return domain.ErrPaymentExists.WithDetail("gateway_reference", payment.GatewayReference)
	}

	stored := payment.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.payments[stored.ID] = stored
	if stored.GatewayReference != "" {
		s.byReference[stored.GatewayReference] = stored.ID
	}
	return nil
}

func (s *LedgerStore) Get(ctx context.Context, id string) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", id)
	}
	return p.Clone(), nil
}

func (s *LedgerStore) GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReference[reference]
	if !ok {
		return nil, domain.ErrPaymentNotFound.WithDetail("gateway_reference", reference)
	}
	return s.payments[id].Clone(), nil
}

// Save replaces the stored payment when its version still equals expectedVersion
func (s *LedgerStore) Save(ctx context.Context, payment *domain.Payment, expectedVersion int64) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[payment.ID]
	if !ok {
		return nil, domain.ErrPaymentNotFound.WithDetail("payment_id", payment.ID)
	}
	if current.Version != expectedVersion {
		return nil, domain.ErrVersionConflict.
			WithDetail("payment_id", payment.ID).
			WithDetail("expected_version", expectedVersion).
			WithDetail("actual_version", current.Version)
	}

	stored := payment.Clone()
	stored.Version = expectedVersion + 1
	stored.GatewayReference = current.GatewayReference
	s.payments[stored.ID] = stored
	return stored.Clone(), nil
}

// Len returns the number of stored payments
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}
