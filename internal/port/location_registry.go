package port

import (
	"context"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

type LocationRegistry interface {
	// GetLocation returns nil, nil for an unknown location
	GetLocation(ctx context.Context, id string) (*domain.Location, error)

	// ListChildren returns the direct children of a location
	ListChildren(ctx context.Context, parentID string) ([]domain.Location, error)
}
