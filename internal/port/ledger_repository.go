package port

import (
	"context"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

type LedgerRepository interface {
	// ListAvailableStock returns entries of sku at locationID with available quantity left
	ListAvailableStock(ctx context.Context, locationID, sku string) ([]domain.StockEntry, error)

	// GetStockEntry returns nil, nil when the entry does not exist
	GetStockEntry(ctx context.Context, id string) (*domain.StockEntry, error)

	// ReceiveStock records a goods receipt
	ReceiveStock(ctx context.Context, entry domain.StockEntry) error

	// CommitAllocation applies every reservation of plan and persists record in one
	// transaction, failing with domain.ErrContention when any entry no longer covers its quantity
	CommitAllocation(ctx context.Context, plan domain.AllocationPlan, record domain.AllocationRecord) error

	// SaveAllocationRecord persists a record that reserved nothing
	SaveAllocationRecord(ctx context.Context, record domain.AllocationRecord) error
}
