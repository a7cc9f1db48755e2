package domain

import "time"

type AllocationStatus string

const (
	AllocationFull    AllocationStatus = "FULL"
	AllocationPartial AllocationStatus = "PARTIAL"
	AllocationFailed  AllocationStatus = "FAILED"
)

type Reservation struct {
	StockEntryID string `json:"stockEntryId"`
	LineID       string `json:"lineId"`
	SKU          string `json:"sku"`
	Quantity     int    `json:"quantity"`
}

type Shortfall struct {
	SKU           string `json:"sku"`
	QuantityShort int    `json:"quantityShort"`
}

// AllocationPlan is computed per attempt and never stored.
type AllocationPlan struct {
	OrderID      string
	LocationID   string
	Strategy     Strategy
	Reservations []Reservation
	Shortfall    []Shortfall
}

func (p AllocationPlan) Quantity() int {
	total := 0
	for _, r := range p.Reservations {
		total += r.Quantity
	}
	return total
}

// AllocationRecord is the immutable outcome of one allocation attempt.
type AllocationRecord struct {
	ID           string
	OrderID      string
	LocationID   string
	Strategy     string
	Status       AllocationStatus
	Reservations []Reservation
	Shortfall    []Shortfall
	CreatedAt    time.Time
}

// NewAllocationRecord classifies a plan about to be committed.
func NewAllocationRecord(id string, plan AllocationPlan, at time.Time) AllocationRecord {
	status := AllocationFull
	if len(plan.Shortfall) > 0 {
		status = AllocationPartial
	}
	return AllocationRecord{
		ID:           id,
		OrderID:      plan.OrderID,
		LocationID:   plan.LocationID,
		Strategy:     plan.Strategy.Name(),
		Status:       status,
		Reservations: plan.Reservations,
		Shortfall:    plan.Shortfall,
		CreatedAt:    at,
	}
}

// FailedAllocationRecord records an attempt that reserved nothing, with the
// order's whole remaining demand as shortfall.
func FailedAllocationRecord(id string, order Order, locationID string, strategy Strategy, at time.Time) AllocationRecord {
	var shortfall []Shortfall
	for _, l := range order.Lines {
		if l.Remaining() > 0 {
			shortfall = addShortfall(shortfall, l.SKU, l.Remaining())
		}
	}
	return AllocationRecord{
		ID:         id,
		OrderID:    order.ID,
		LocationID: locationID,
		Strategy:   strategy.Name(),
		Status:     AllocationFailed,
		Shortfall:  shortfall,
		CreatedAt:  at,
	}
}

func (r AllocationRecord) Quantity() int {
	total := 0
	for _, res := range r.Reservations {
		total += res.Quantity
	}
	return total
}

func addShortfall(list []Shortfall, sku string, qty int) []Shortfall {
	for i := range list {
		if list[i].SKU == sku {
			list[i].QuantityShort += qty
			return list
		}
	}
	return append(list, Shortfall{SKU: sku, QuantityShort: qty})
}
