package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("event publisher closed")
)

const publishTimeout = 5 * time.Second

type job struct {
	name string
	id   string
	send func(ctx context.Context, next port.EventPublisher) error
}

// AsyncPublisher takes event publishing off the request path. Events are
// buffered in a bounded queue and drained by a fixed worker pool; when the
// queue is full the event is rejected rather than blocking the caller.
type AsyncPublisher struct {
	next   port.EventPublisher
	queue  chan job
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncPublisher(next port.EventPublisher, queueSize, workers int, logger *zap.Logger) *AsyncPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	p := &AsyncPublisher{
		next:   next,
		queue:  make(chan job, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	return p
}

func (p *AsyncPublisher) PublishAllocation(ctx context.Context, record domain.AllocationRecord) error {
	return p.enqueue(ctx, job{name: QueueAllocationCompleted, id: record.ID, send: func(ctx context.Context, next port.EventPublisher) error {
		return next.PublishAllocation(ctx, record)
	}})
}

func (p *AsyncPublisher) PublishAwbAssigned(ctx context.Context, assignment domain.AwbAssignment) error {
	return p.enqueue(ctx, job{name: QueueAwbAssigned, id: assignment.ID, send: func(ctx context.Context, next port.EventPublisher) error {
		return next.PublishAwbAssigned(ctx, assignment)
	}})
}

func (p *AsyncPublisher) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *AsyncPublisher) workerLoop(id int) {
	for j := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := j.send(ctx, p.next); err != nil {
			p.logger.Error("event publish failed",
				zap.Int("worker", id),
				zap.String("event", j.name),
				zap.String("id", j.id),
				zap.Error(err))
		}
		cancel()
	}
}
