package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/core/service"
)

type HTTPHandler struct {
	allocation *service.AllocationService
	dispatch   *service.DispatchService
	logger     *zap.Logger
}

func NewHTTPHandler(allocation *service.AllocationService, dispatch *service.DispatchService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{allocation: allocation, dispatch: dispatch, logger: logger}
}

// Allocate handles POST /allocate.
func (h *HTTPHandler) Allocate(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.Wrap(domain.CodeInvalidArgument, err, "invalid request body"))
		return
	}

	record, err := h.allocation.Allocate(c.Request.Context(), service.AllocateRequest{
		OrderID:        req.OrderID,
		LocationID:     req.LocationID,
		Strategy:       req.AllocationStrategy,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil && !businessOutcome(err) {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAllocateResponse(record, err))
}

// BulkAllocate handles PUT /allocate/bulk.
func (h *HTTPHandler) BulkAllocate(c *gin.Context) {
	var req BulkAllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.Wrap(domain.CodeInvalidArgument, err, "invalid request body"))
		return
	}

	summary, err := h.allocation.AllocateBulk(c.Request.Context(), service.BulkAllocateRequest{
		OrderIDs:   req.OrderIDs,
		LocationID: req.LocationID,
		Strategy:   req.AllocationStrategy,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, allocateResults(summary))
}

// AssignAwb handles POST /awb.
func (h *HTTPHandler) AssignAwb(c *gin.Context) {
	var req service.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.Wrap(domain.CodeInvalidArgument, err, "invalid request body"))
		return
	}

	order, err := h.dispatch.Assign(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(order))
}

// BulkAssignAwb handles PUT /awb/bulk.
func (h *HTTPHandler) BulkAssignAwb(c *gin.Context) {
	var req BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, domain.Wrap(domain.CodeInvalidArgument, err, "invalid request body"))
		return
	}

	summary, err := h.dispatch.BulkAssign(c.Request.Context(), req.Assignments)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, assignResults(summary))
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.allocation.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *HTTPHandler) ListAllocations(c *gin.Context) {
	records, err := h.allocation.Records(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]AllocateResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, newAllocateResponse(r, nil))
	}
	c.JSON(http.StatusOK, gin.H{"allocations": resp})
}

// Scope lists the locations the caller may allocate at. Admins get
// unrestricted=true and no list.
func (h *HTTPHandler) Scope(c *gin.Context) {
	caller, _ := domain.CallerFromContext(c.Request.Context())
	visible, err := h.allocation.Scope().VisibleLocations(c.Request.Context(), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unrestricted": visible == nil, "locations": visible})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status := httpStatus(err)
	resp := newErrorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		resp.Message = "internal error"
	}
	c.JSON(status, resp)
}
