package service

import (
	"context"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

// Planner computes allocation plans from a ledger snapshot. It never reserves.
type Planner struct {
	ledger port.LedgerRepository
}

func NewPlanner(ledger port.LedgerRepository) *Planner {
	return &Planner{ledger: ledger}
}

// Plan reads the stock of every SKU the order still needs at locationID and
// builds a plan for the remaining quantities.
func (p *Planner) Plan(ctx context.Context, order domain.Order, locationID string, strategy domain.Strategy) (domain.AllocationPlan, error) {
	if err := domain.ValidateLines(order.Lines); err != nil {
		return domain.AllocationPlan{}, err
	}

	stock := make(map[string][]domain.StockEntry)
	for _, line := range order.Lines {
		if line.Remaining() == 0 {
			continue
		}
		if _, seen := stock[line.SKU]; seen {
			continue
		}
		entries, err := p.ledger.ListAvailableStock(ctx, locationID, line.SKU)
		if err != nil {
			return domain.AllocationPlan{}, err
		}
		stock[line.SKU] = entries
	}

	return BuildPlan(order, locationID, stock, strategy), nil
}

// BuildPlan greedily consumes stock in strategy order, line by line. Lines
// sharing a SKU draw from the same entries. Demand that cannot be covered
// becomes shortfall.
func BuildPlan(order domain.Order, locationID string, stock map[string][]domain.StockEntry, strategy domain.Strategy) domain.AllocationPlan {
	plan := domain.AllocationPlan{
		OrderID:    order.ID,
		LocationID: locationID,
		Strategy:   strategy,
	}

	sorted := make(map[string][]domain.StockEntry, len(stock))
	consumed := make(map[string]int)
	shortIdx := make(map[string]int)

	for _, line := range order.Lines {
		need := line.Remaining()
		if need <= 0 {
			continue
		}

		entries, ok := sorted[line.SKU]
		if !ok {
			entries = domain.SortEntries(stock[line.SKU], strategy)
			sorted[line.SKU] = entries
		}

		for _, e := range entries {
			if need == 0 {
				break
			}
			if e.LocationID != locationID || e.SKU != line.SKU {
				continue
			}
			avail := e.Available() - consumed[e.ID]
			if avail <= 0 {
				continue
			}
			take := min(avail, need)
			plan.Reservations = append(plan.Reservations, domain.Reservation{
				StockEntryID: e.ID,
				LineID:       line.ID,
				SKU:          line.SKU,
				Quantity:     take,
			})
			consumed[e.ID] += take
			need -= take
		}

		if need > 0 {
			if i, ok := shortIdx[line.SKU]; ok {
				plan.Shortfall[i].QuantityShort += need
			} else {
				shortIdx[line.SKU] = len(plan.Shortfall)
				plan.Shortfall = append(plan.Shortfall, domain.Shortfall{SKU: line.SKU, QuantityShort: need})
			}
		}
	}

	return plan
}
