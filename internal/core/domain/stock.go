package domain

import "time"

// StockEntry is one physical inventory position: a receipt batch of a SKU
// held at a location.
type StockEntry struct {
	ID               string
	LocationID       string
	SKU              string
	BatchID          string
	ReceivedAt       time.Time
	ExpiresAt        *time.Time
	QuantityOnHand   int
	QuantityReserved int
	Version          int // optimistic locking
	UpdatedAt        time.Time
}

// Available is the quantity that can still be reserved.
func (e StockEntry) Available() int {
	return e.QuantityOnHand - e.QuantityReserved
}
