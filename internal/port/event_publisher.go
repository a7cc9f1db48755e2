package port

import (
	"context"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

type EventPublisher interface {
	PublishAllocation(ctx context.Context, record domain.AllocationRecord) error
	PublishAwbAssigned(ctx context.Context, assignment domain.AwbAssignment) error
}
