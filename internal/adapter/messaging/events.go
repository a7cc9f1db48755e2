package messaging

import (
	"time"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

const (
	QueueAllocationCompleted = "allocation.completed"
	QueueAwbAssigned         = "awb.assigned"
)

type AllocationCompleted struct {
	RecordID     string               `json:"recordId"`
	OrderID      string               `json:"orderId"`
	LocationID   string               `json:"locationId"`
	Strategy     string               `json:"strategy"`
	Status       string               `json:"status"`
	Allocated    int                  `json:"allocated"`
	Reservations []domain.Reservation `json:"reservations"`
	Shortfall    []domain.Shortfall   `json:"shortfall"`
	OccurredAt   time.Time            `json:"occurredAt"`
}

type AwbAssigned struct {
	AssignmentID string    `json:"assignmentId"`
	OrderID      string    `json:"orderId"`
	AwbNumber    string    `json:"awbNumber"`
	TrackingURL  string    `json:"trackingUrl,omitempty"`
	LabelURL     string    `json:"labelUrl,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func newAllocationCompleted(r domain.AllocationRecord) AllocationCompleted {
	e := AllocationCompleted{
		RecordID:     r.ID,
		OrderID:      r.OrderID,
		LocationID:   r.LocationID,
		Strategy:     r.Strategy,
		Status:       string(r.Status),
		Allocated:    r.Quantity(),
		Reservations: r.Reservations,
		Shortfall:    r.Shortfall,
		OccurredAt:   r.CreatedAt,
	}
	if e.Reservations == nil {
		e.Reservations = []domain.Reservation{}
	}
	if e.Shortfall == nil {
		e.Shortfall = []domain.Shortfall{}
	}
	return e
}

func newAwbAssigned(a domain.AwbAssignment) AwbAssigned {
	return AwbAssigned{
		AssignmentID: a.ID,
		OrderID:      a.OrderID,
		AwbNumber:    a.AwbNumber,
		TrackingURL:  a.TrackingURL,
		LabelURL:     a.LabelURL,
		OccurredAt:   a.AssignedAt,
	}
}
