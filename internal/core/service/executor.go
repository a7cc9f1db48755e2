package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

// Executor commits plans to the ledger. It is the only writer of allocation
// records and allocated line quantities.
type Executor struct {
	ledger port.LedgerRepository
	now    func() time.Time
}

func NewExecutor(ledger port.LedgerRepository) *Executor {
	return &Executor{ledger: ledger, now: time.Now}
}

// Execute applies plan in one transaction. A stale plan fails with
// domain.ErrContention and leaves the ledger untouched.
func (e *Executor) Execute(ctx context.Context, plan domain.AllocationPlan) (domain.AllocationRecord, error) {
	record := domain.NewAllocationRecord(uuid.NewString(), plan, e.now().UTC())
	if err := e.ledger.CommitAllocation(ctx, plan, record); err != nil {
		return domain.AllocationRecord{}, err
	}
	return record, nil
}

// Fail persists a FAILED record for an attempt that reserved nothing.
func (e *Executor) Fail(ctx context.Context, order domain.Order, locationID string, strategy domain.Strategy) (domain.AllocationRecord, error) {
	record := domain.FailedAllocationRecord(uuid.NewString(), order, locationID, strategy, e.now().UTC())
	if err := e.ledger.SaveAllocationRecord(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}
