package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "pending"
	OrderStatusPartiallyAllocated OrderStatus = "partially_allocated"
	OrderStatusAllocated          OrderStatus = "allocated"
	OrderStatusDispatched         OrderStatus = "dispatched"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

type Order struct {
	ID         string
	LocationID string
	Strategy   string
	Status     OrderStatus
	Lines      []OrderLine
	Awb        *AwbAssignment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrderLine struct {
	ID                string
	OrderID           string
	SKU               string
	QuantityRequested int
	QuantityAllocated int
}

// Remaining is the quantity of the line still waiting for stock.
func (l OrderLine) Remaining() int {
	return l.QuantityRequested - l.QuantityAllocated
}

func (o Order) FullyAllocated() bool {
	for _, l := range o.Lines {
		if l.Remaining() > 0 {
			return false
		}
	}
	return true
}

// Allocatable reports whether the order may still receive reservations.
func (o Order) Allocatable() bool {
	return o.Status != OrderStatusCancelled && o.Status != OrderStatusDispatched
}

// ValidateLines checks the shape of order lines before planning.
func ValidateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return Newf(CodeInvalidArgument, "order has no lines")
	}
	for i, l := range lines {
		if l.SKU == "" {
			return Newf(CodeInvalidArgument, "line %d: sku is required", i)
		}
		if l.QuantityRequested <= 0 {
			return Newf(CodeInvalidArgument, "line %d: quantity requested must be positive", i)
		}
		if l.QuantityAllocated < 0 || l.QuantityAllocated > l.QuantityRequested {
			return Newf(CodeInvalidArgument, "line %d: quantity allocated out of range", i)
		}
	}
	return nil
}

// Backorder is a partially allocated order waiting for a retry at the
// location and strategy of its last attempt.
type Backorder struct {
	OrderID    string
	LocationID string
	Strategy   string
}
