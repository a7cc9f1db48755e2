package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

const (
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 25 * time.Millisecond
)

type AllocationConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	Batch        BatchOptions
}

type AllocateRequest struct {
	OrderID        string
	LocationID     string
	Strategy       string
	IdempotencyKey string
}

type BulkAllocateRequest struct {
	OrderIDs   []string
	LocationID string
	Strategy   string
}

// AllocationService drives planner and executor for single orders and
// batches, re-planning when a commit loses a race for stock.
type AllocationService struct {
	planner   *Planner
	executor  *Executor
	orders    port.OrderRepository
	locations port.LocationRegistry
	scope     *ScopeResolver
	cache     port.CacheRepository
	events    port.EventPublisher
	cfg       AllocationConfig
	logger    *zap.Logger
}

func NewAllocationService(ledger port.LedgerRepository, orders port.OrderRepository, locations port.LocationRegistry, cfg AllocationConfig, logger *zap.Logger) *AllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	cfg.Batch = cfg.Batch.withDefaults()

	return &AllocationService{
		planner:   NewPlanner(ledger),
		executor:  NewExecutor(ledger),
		orders:    orders,
		locations: locations,
		scope:     NewScopeResolver(locations),
		cfg:       cfg,
		logger:    logger,
	}
}

// WithCache enables idempotency keys on Allocate.
func (s *AllocationService) WithCache(cache port.CacheRepository) *AllocationService {
	s.cache = cache
	return s
}

func (s *AllocationService) WithPublisher(events port.EventPublisher) *AllocationService {
	s.events = events
	return s
}

func (s *AllocationService) Scope() *ScopeResolver {
	return s.scope
}

// Allocate reserves stock for one order at one location. A PARTIAL record is
// a successful outcome. When every attempt loses to concurrent commits a
// FAILED record is stored and returned together with domain.ErrContention.
func (s *AllocationService) Allocate(ctx context.Context, req AllocateRequest) (record domain.AllocationRecord, err error) {
	ctx, span := tracer.Start(ctx, "AllocationService.Allocate", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("location.id", req.LocationID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.OrderID) == "" {
		return record, domain.Newf(domain.CodeInvalidArgument, "orderId is required")
	}
	strategy, err := s.prepare(ctx, req.LocationID, req.Strategy)
	if err != nil {
		return record, err
	}

	if req.IdempotencyKey != "" && s.cache != nil {
		key := "allocate:" + req.IdempotencyKey
		token := uuid.NewString()
		ok, claimErr := s.cache.SetIdempotency(ctx, key, token)
		if claimErr != nil {
			return record, fmt.Errorf("idempotency check failed: %w", claimErr)
		}
		if !ok {
			return record, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key, token); relErr != nil {
				s.logger.Warn("release idempotency key failed", zap.String("key", key), zap.Error(relErr))
			}
		}()
	}

	return s.allocate(ctx, req.OrderID, req.LocationID, strategy)
}

// AllocateBulk allocates many orders at one location through RunBatch.
// Location and strategy problems reject the whole call.
func (s *AllocationService) AllocateBulk(ctx context.Context, req BulkAllocateRequest) (summary BatchSummary[domain.AllocationRecord], err error) {
	ctx, span := tracer.Start(ctx, "AllocationService.AllocateBulk", trace.WithAttributes(
		attribute.String("location.id", req.LocationID),
		attribute.Int("batch.requested", len(req.OrderIDs)),
	))
	defer func() { endSpan(span, err) }()

	if len(req.OrderIDs) == 0 {
		return summary, domain.Newf(domain.CodeInvalidArgument, "orderIds must not be empty")
	}
	strategy, err := s.prepare(ctx, req.LocationID, req.Strategy)
	if err != nil {
		return summary, err
	}

	summary = RunBatch(ctx, req.OrderIDs, func(id string) string { return id },
		func(ctx context.Context, orderID string) (domain.AllocationRecord, Outcome, error) {
			if strings.TrimSpace(orderID) == "" {
				return domain.AllocationRecord{}, OutcomeFailed, domain.Newf(domain.CodeInvalidArgument, "orderId is required")
			}
			record, err := s.allocate(ctx, orderID, req.LocationID, strategy)
			return record, outcomeOf(record), err
		}, s.cfg.Batch)

	s.logger.Info("bulk allocation finished",
		zap.String("location_id", req.LocationID),
		zap.Int("requested", summary.Requested),
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed))

	return summary, nil
}

// Order returns an order visible to the caller.
func (s *AllocationService) Order(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.Newf(domain.CodeNotFound, "order %s not found", id)
	}
	if err := s.scope.authorizeOrder(ctx, order); err != nil {
		return nil, domain.Newf(domain.CodeNotFound, "order %s not found", id)
	}
	return order, nil
}

func (s *AllocationService) Records(ctx context.Context, orderID string) ([]domain.AllocationRecord, error) {
	if _, err := s.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.ListAllocationRecords(ctx, orderID)
}

// prepare validates the location and strategy shared by every order of a call.
func (s *AllocationService) prepare(ctx context.Context, locationID, strategyName string) (domain.Strategy, error) {
	if strings.TrimSpace(locationID) == "" {
		return nil, domain.Newf(domain.CodeInvalidArgument, "locationId is required")
	}
	strategy, err := domain.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	if err := s.checkLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return strategy, nil
}

func (s *AllocationService) checkLocation(ctx context.Context, locationID string) error {
	loc, err := s.locations.GetLocation(ctx, locationID)
	if err != nil {
		return fmt.Errorf("resolve location: %w", err)
	}
	if loc == nil {
		return domain.Newf(domain.CodeNotFound, "location %s not found", locationID)
	}
	if err := s.scope.authorize(ctx, locationID); err != nil {
		return err
	}
	if !loc.Active {
		return domain.Newf(domain.CodeInvalidState, "location %s is inactive", locationID)
	}
	return nil
}

func (s *AllocationService) allocate(ctx context.Context, orderID, locationID string, strategy domain.Strategy) (domain.AllocationRecord, error) {
	var (
		order    *domain.Order
		attempts int
	)

	op := func() (domain.AllocationRecord, error) {
		attempts++

		// Reload each attempt so the plan sees quantities committed meanwhile.
		o, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return domain.AllocationRecord{}, backoff.Permanent(err)
		}
		if o == nil {
			return domain.AllocationRecord{}, backoff.Permanent(domain.Newf(domain.CodeNotFound, "order %s not found", orderID))
		}
		if !o.Allocatable() {
			return domain.AllocationRecord{}, backoff.Permanent(domain.Newf(domain.CodeInvalidState, "order %s is %s", orderID, o.Status))
		}
		if o.FullyAllocated() {
			return domain.AllocationRecord{}, backoff.Permanent(domain.Newf(domain.CodeInvalidState, "order %s is already fully allocated at %s", orderID, o.LocationID))
		}
		order = o

		plan, err := s.planner.Plan(ctx, *o, locationID, strategy)
		if err != nil {
			return domain.AllocationRecord{}, backoff.Permanent(err)
		}

		record, err := s.executor.Execute(ctx, plan)
		if err != nil {
			if errors.Is(err, domain.ErrContention) {
				s.logger.Debug("allocation lost race, re-planning",
					zap.String("order_id", orderID), zap.Int("attempt", attempts), zap.Error(err))
				return domain.AllocationRecord{}, err
			}
			return domain.AllocationRecord{}, backoff.Permanent(err)
		}
		return record, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBackoff
	b.MaxInterval = 10 * s.cfg.RetryBackoff

	record, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)))
	if err != nil {
		if errors.Is(err, domain.ErrContention) && order != nil {
			failed, saveErr := s.executor.Fail(ctx, *order, locationID, strategy)
			if saveErr != nil {
				s.logger.Error("persist failed allocation record", zap.String("order_id", orderID), zap.Error(saveErr))
			}
			s.logger.Warn("allocation gave up under contention",
				zap.String("order_id", orderID), zap.Int("attempts", attempts))
			return failed, domain.Wrap(domain.CodeContention, err,
				fmt.Sprintf("order %s: gave up after %d attempts", orderID, attempts))
		}
		return domain.AllocationRecord{}, err
	}

	s.logger.Info("order allocated",
		zap.String("order_id", orderID),
		zap.String("location_id", locationID),
		zap.String("strategy", strategy.Name()),
		zap.String("status", string(record.Status)),
		zap.Int("quantity", record.Quantity()),
		zap.Int("attempts", attempts))

	if s.events != nil {
		if err := s.events.PublishAllocation(ctx, record); err != nil {
			s.logger.Error("publish allocation event failed", zap.String("record_id", record.ID), zap.Error(err))
		}
	}

	return record, nil
}

func outcomeOf(record domain.AllocationRecord) Outcome {
	switch record.Status {
	case domain.AllocationFull:
		return OutcomeSuccess
	case domain.AllocationPartial:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}
