package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

const maxAwbLength = 64

type AssignRequest struct {
	OrderID     string `json:"orderId"`
	AwbNumber   string `json:"awbNumber"`
	TrackingURL string `json:"trackingUrl,omitempty"`
	LabelURL    string `json:"labelUrl,omitempty"`
}

// Validate checks the request shape only.
func (r AssignRequest) Validate() error {
	if strings.TrimSpace(r.OrderID) == "" {
		return domain.Newf(domain.CodeInvalidArgument, "orderId is required")
	}
	if strings.TrimSpace(r.AwbNumber) == "" {
		return domain.Newf(domain.CodeInvalidArgument, "awbNumber is required")
	}
	if len(r.AwbNumber) > maxAwbLength || strings.IndexFunc(r.AwbNumber, unicode.IsSpace) >= 0 {
		return domain.Newf(domain.CodeInvalidArgument, "awbNumber %q is malformed", r.AwbNumber)
	}
	return nil
}

// DispatchService binds carrier tracking numbers to orders.
type DispatchService struct {
	orders port.OrderRepository
	awbs   port.DispatchRepository
	scope  *ScopeResolver
	events port.EventPublisher
	batch  BatchOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatchService(orders port.OrderRepository, awbs port.DispatchRepository, scope *ScopeResolver, batch BatchOptions, logger *zap.Logger) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		orders: orders,
		awbs:   awbs,
		scope:  scope,
		batch:  batch.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

func (s *DispatchService) WithPublisher(events port.EventPublisher) *DispatchService {
	s.events = events
	return s
}

// Assign binds req.AwbNumber to the order and returns the updated order.
// Repeating the current assignment is a no-op.
func (s *DispatchService) Assign(ctx context.Context, req AssignRequest) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "DispatchService.Assign", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("awb.number", req.AwbNumber),
	))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.assign(ctx, req)
}

// BulkAssign rejects the whole call when any entry is malformed. Valid input
// goes through RunBatch, so one failing assignment never blocks the others.
func (s *DispatchService) BulkAssign(ctx context.Context, reqs []AssignRequest) (summary BatchSummary[*domain.Order], err error) {
	ctx, span := tracer.Start(ctx, "DispatchService.BulkAssign", trace.WithAttributes(
		attribute.Int("batch.requested", len(reqs)),
	))
	defer func() { endSpan(span, err) }()

	if len(reqs) == 0 {
		return summary, domain.Newf(domain.CodeInvalidArgument, "assignments must not be empty")
	}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return summary, domain.Wrap(domain.CodeInvalidArgument, err, fmt.Sprintf("assignment %d", i))
		}
	}

	// Entries sharing an order or an AWB run one after another in request
	// order, so the earliest entry that succeeds keeps the AWB.
	entries := make([]chainedAssign, len(reqs))
	lastByOrder := make(map[string]int, len(reqs))
	lastByAwb := make(map[string]int, len(reqs))
	for i, req := range reqs {
		entries[i] = chainedAssign{req: req, done: make(chan struct{})}
		if j, ok := lastByOrder[req.OrderID]; ok {
			entries[i].after = append(entries[i].after, entries[j].done)
		}
		if j, ok := lastByAwb[req.AwbNumber]; ok {
			entries[i].after = append(entries[i].after, entries[j].done)
		}
		lastByOrder[req.OrderID] = i
		lastByAwb[req.AwbNumber] = i
	}

	summary = RunBatch(ctx, entries, func(e chainedAssign) string { return e.req.OrderID },
		func(ctx context.Context, e chainedAssign) (*domain.Order, Outcome, error) {
			defer close(e.done)
			for _, prev := range e.after {
				select {
				case <-prev:
				case <-ctx.Done():
					return nil, OutcomeFailed, ctx.Err()
				}
			}
			order, err := s.assign(ctx, e.req)
			if err != nil {
				return nil, OutcomeFailed, err
			}
			return order, OutcomeSuccess, nil
		}, s.batch)

	s.logger.Info("bulk awb assignment finished",
		zap.Int("requested", summary.Requested),
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// chainedAssign waits for the earlier entries it conflicts with.
type chainedAssign struct {
	req   AssignRequest
	after []<-chan struct{}
	done  chan struct{}
}

func (s *DispatchService) assign(ctx context.Context, req AssignRequest) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.Newf(domain.CodeNotFound, "order %s not found", req.OrderID)
	}
	if s.scope != nil {
		if err := s.scope.authorizeOrder(ctx, order); err != nil {
			return nil, domain.Newf(domain.CodeNotFound, "order %s not found", req.OrderID)
		}
	}
	if order.Status == domain.OrderStatusCancelled {
		return nil, domain.Newf(domain.CodeInvalidState, "order %s is cancelled", req.OrderID)
	}

	id := uuid.NewString()
	assignment, err := s.awbs.AssignAwb(ctx, domain.AwbAssignment{
		ID:          id,
		OrderID:     req.OrderID,
		AwbNumber:   req.AwbNumber,
		TrackingURL: req.TrackingURL,
		LabelURL:    req.LabelURL,
		AssignedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if assignment.ID == id {
		s.logger.Info("awb assigned",
			zap.String("order_id", req.OrderID),
			zap.String("awb_number", req.AwbNumber))
		if s.events != nil {
			if err := s.events.PublishAwbAssigned(ctx, assignment); err != nil {
				s.logger.Error("publish awb event failed", zap.String("order_id", req.OrderID), zap.Error(err))
			}
		}
	}

	updated, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, domain.Newf(domain.CodeNotFound, "order %s not found", req.OrderID)
	}
	return updated, nil
}
