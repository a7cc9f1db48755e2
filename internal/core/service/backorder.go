package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

const DefaultBackorderLimit = 200

// BackorderSweeper retries partially allocated orders at the location and
// strategy of their last attempt, picking up stock received since.
type BackorderSweeper struct {
	orders     port.OrderRepository
	allocation *AllocationService
	limit      int
	logger     *zap.Logger
}

func NewBackorderSweeper(orders port.OrderRepository, allocation *AllocationService, limit int, logger *zap.Logger) *BackorderSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultBackorderLimit
	}
	return &BackorderSweeper{orders: orders, allocation: allocation, limit: limit, logger: logger}
}

func (b *BackorderSweeper) Sweep(ctx context.Context) (summary BatchSummary[domain.AllocationRecord], err error) {
	ctx, span := tracer.Start(ctx, "BackorderSweeper.Sweep")
	defer func() { endSpan(span, err) }()

	backorders, err := b.orders.ListBackorders(ctx, b.limit)
	if err != nil {
		return summary, fmt.Errorf("list backorders: %w", err)
	}

	opts := b.allocation.cfg.Batch
	if opts.Cap < len(backorders) {
		opts.Cap = len(backorders)
	}

	summary = RunBatch(ctx, backorders, func(bo domain.Backorder) string { return bo.OrderID },
		func(ctx context.Context, bo domain.Backorder) (domain.AllocationRecord, Outcome, error) {
			strategy, err := domain.ParseStrategy(bo.Strategy)
			if err != nil {
				return domain.AllocationRecord{}, OutcomeFailed, err
			}
			if err := b.allocation.checkLocation(ctx, bo.LocationID); err != nil {
				return domain.AllocationRecord{}, OutcomeFailed, err
			}
			if idle, err := b.idle(ctx, bo, strategy); err != nil || idle {
				return domain.AllocationRecord{}, OutcomePartial, err
			}
			record, err := b.allocation.allocate(ctx, bo.OrderID, bo.LocationID, strategy)
			return record, outcomeOf(record), err
		}, opts)

	b.logger.Info("backorder sweep finished",
		zap.Int("backorders", summary.Requested),
		zap.Int("completed", summary.Successful),
		zap.Int("still_partial", summary.Partial),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// idle reports whether the location has nothing new for the order, in which
// case no attempt and no record are made.
func (b *BackorderSweeper) idle(ctx context.Context, bo domain.Backorder, strategy domain.Strategy) (bool, error) {
	order, err := b.orders.GetOrder(ctx, bo.OrderID)
	if err != nil || order == nil {
		return false, err
	}
	plan, err := b.allocation.planner.Plan(ctx, *order, bo.LocationID, strategy)
	if err != nil {
		return false, err
	}
	return plan.Quantity() == 0, nil
}
