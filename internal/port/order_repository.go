package port

import (
	"context"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

type OrderRepository interface {
	// GetOrder returns the order with its lines and active AWB, or nil, nil
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	CreateOrder(ctx context.Context, order domain.Order) error

	// ListAllocationRecords returns the records of an order, oldest first
	ListAllocationRecords(ctx context.Context, orderID string) ([]domain.AllocationRecord, error)

	// ListBackorders returns partially allocated orders, least recently touched first
	ListBackorders(ctx context.Context, limit int) ([]domain.Backorder, error)
}

type DispatchRepository interface {
	// AssignAwb makes assignment the active one for its order, superseding the previous.
	// Returns the existing assignment unchanged when it already carries the same AWB.
	AssignAwb(ctx context.Context, assignment domain.AwbAssignment) (domain.AwbAssignment, error)

	// GetActiveAssignment returns nil, nil when the order has no AWB
	GetActiveAssignment(ctx context.Context, orderID string) (*domain.AwbAssignment, error)
}
