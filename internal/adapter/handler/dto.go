package handler

import (
	"time"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/core/service"
)

type AllocateRequest struct {
	OrderID            string `json:"orderId"`
	LocationID         string `json:"locationId"`
	AllocationStrategy string `json:"allocationStrategy,omitempty"`
}

type AllocateResponse struct {
	Success      bool                 `json:"success"`
	Status       string               `json:"status,omitempty"`
	RecordID     string               `json:"recordId,omitempty"`
	OrderID      string               `json:"orderId,omitempty"`
	LocationID   string               `json:"locationId,omitempty"`
	Strategy     string               `json:"strategy,omitempty"`
	Allocated    int                  `json:"allocated"`
	Reservations []domain.Reservation `json:"reservations"`
	Shortfall    []domain.Shortfall   `json:"shortfall"`
	Kind         string               `json:"kind,omitempty"`
	Message      string               `json:"message,omitempty"`
	CreatedAt    *time.Time           `json:"createdAt,omitempty"`
}

type BulkAllocateRequest struct {
	OrderIDs           []string `json:"orderIds"`
	LocationID         string   `json:"locationId"`
	AllocationStrategy string   `json:"allocationStrategy,omitempty"`
}

type BulkAllocateResponse = service.BatchSummary[AllocateResponse]

type BulkAssignRequest struct {
	Assignments []service.AssignRequest `json:"assignments"`
}

type BulkAssignResponse = service.BatchSummary[*OrderResponse]

type OrderLineResponse struct {
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	QuantityRequested int    `json:"quantityRequested"`
	QuantityAllocated int    `json:"quantityAllocated"`
}

type AwbResponse struct {
	AwbNumber   string    `json:"awbNumber"`
	TrackingURL string    `json:"trackingUrl,omitempty"`
	LabelURL    string    `json:"labelUrl,omitempty"`
	AssignedAt  time.Time `json:"assignedAt"`
}

type OrderResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	LocationID string              `json:"locationId,omitempty"`
	Lines      []OrderLineResponse `json:"lines"`
	Awb        *AwbResponse        `json:"awb,omitempty"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newAllocateResponse(record domain.AllocationRecord, err error) AllocateResponse {
	resp := AllocateResponse{
		Success:      err == nil && record.Status == domain.AllocationFull,
		Status:       string(record.Status),
		RecordID:     record.ID,
		OrderID:      record.OrderID,
		LocationID:   record.LocationID,
		Strategy:     record.Strategy,
		Allocated:    record.Quantity(),
		Reservations: record.Reservations,
		Shortfall:    record.Shortfall,
	}
	if resp.Reservations == nil {
		resp.Reservations = []domain.Reservation{}
	}
	if resp.Shortfall == nil {
		resp.Shortfall = []domain.Shortfall{}
	}
	if !record.CreatedAt.IsZero() {
		at := record.CreatedAt
		resp.CreatedAt = &at
	}
	if err != nil {
		resp.Kind = string(domain.CodeOf(err))
		resp.Message = err.Error()
		if resp.Status == "" {
			resp.Status = string(domain.AllocationFailed)
		}
	}
	return resp
}

func newOrderResponse(order *domain.Order) *OrderResponse {
	if order == nil {
		return nil
	}
	resp := &OrderResponse{
		ID:         order.ID,
		Status:     string(order.Status),
		LocationID: order.LocationID,
		Lines:      make([]OrderLineResponse, 0, len(order.Lines)),
		UpdatedAt:  order.UpdatedAt,
	}
	for _, l := range order.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			ID:                l.ID,
			SKU:               l.SKU,
			QuantityRequested: l.QuantityRequested,
			QuantityAllocated: l.QuantityAllocated,
		})
	}
	if order.Awb != nil {
		resp.Awb = &AwbResponse{
			AwbNumber:   order.Awb.AwbNumber,
			TrackingURL: order.Awb.TrackingURL,
			LabelURL:    order.Awb.LabelURL,
			AssignedAt:  order.Awb.AssignedAt,
		}
	}
	return resp
}

func newErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Success: false, Kind: string(domain.CodeOf(err)), Message: err.Error()}
}

// mapSummary converts batch result values, keeping counts and errors.
func mapSummary[R, S any](in service.BatchSummary[R], f func(R) S) service.BatchSummary[S] {
	out := service.BatchSummary[S]{
		Requested:  in.Requested,
		Processed:  in.Processed,
		Successful: in.Successful,
		Partial:    in.Partial,
		Failed:     in.Failed,
		Success:    in.Success,
		Results:    make([]service.ItemResult[S], 0, len(in.Results)),
		Errors:     in.Errors,
	}
	for _, r := range in.Results {
		out.Results = append(out.Results, service.ItemResult[S]{
			Index:   r.Index,
			Key:     r.Key,
			Outcome: r.Outcome,
			Value:   f(r.Value),
		})
	}
	return out
}

func allocateResults(in service.BatchSummary[domain.AllocationRecord]) BulkAllocateResponse {
	return mapSummary(in, func(r domain.AllocationRecord) AllocateResponse {
		return newAllocateResponse(r, nil)
	})
}

func assignResults(in service.BatchSummary[*domain.Order]) BulkAssignResponse {
	return mapSummary(in, newOrderResponse)
}
