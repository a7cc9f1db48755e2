package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

// publishChannel is the part of *amqp.Channel the publisher needs.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher sends domain events as persistent JSON messages to durable
// queues on the default exchange. An amqp channel is not safe for concurrent
// publishes, so calls are serialized.
type RabbitPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel publishChannel
	logger  *zap.Logger
}

func NewRabbitPublisher(url string, logger *zap.Logger) (*RabbitPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, queue := range []string{QueueAllocationCompleted, QueueAwbAssigned} {
		if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	logger.Info("connected to rabbitmq")
	return &RabbitPublisher{conn: conn, channel: channel, logger: logger}, nil
}

func (p *RabbitPublisher) PublishAllocation(ctx context.Context, record domain.AllocationRecord) error {
	return p.publish(ctx, QueueAllocationCompleted, record.ID, newAllocationCompleted(record))
}

func (p *RabbitPublisher) PublishAwbAssigned(ctx context.Context, assignment domain.AwbAssignment) error {
	return p.publish(ctx, QueueAwbAssigned, assignment.ID, newAwbAssigned(assignment))
}

func (p *RabbitPublisher) publish(ctx context.Context, queue, messageID string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", queue, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         queue,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	p.logger.Debug("event published", zap.String("queue", queue), zap.String("message_id", messageID))
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NoopPublisher drops events. Used when AMQP_URL is empty.
type NoopPublisher struct{}

func (NoopPublisher) PublishAllocation(context.Context, domain.AllocationRecord) error { return nil }
func (NoopPublisher) PublishAwbAssigned(context.Context, domain.AwbAssignment) error   { return nil }
