package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockOrderCreator provides a testify mock of OrderCreator
type MockOrderCreator struct {
	mock.Mock
}

func (m *MockOrderCreator) CreateOrder(ctx context.Context, cartID, paymentReference string) (string, error) {
	args := m.Called(ctx, cartID, paymentReference)
	return args.String(0), args.Error(1)
}

// MockOrderLinker provides a testify mock of OrderLinker
type MockOrderLinker struct {
	mock.Mock
}

func (m *MockOrderLinker) AttachOrderID(ctx context.Context, paymentReference, orderID string) error {
	args := m.Called(ctx, paymentReference, orderID)
	return args.Error(0)
}
