package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

// ScopeDepth is how many levels below their own location a manager sees.
const ScopeDepth = 2

// ScopeResolver filters locations by caller role. Admins see everything,
// managers see their location plus children and grandchildren.
type ScopeResolver struct {
	locations port.LocationRegistry
	depth     int
}

func NewScopeResolver(locations port.LocationRegistry) *ScopeResolver {
	return &ScopeResolver{locations: locations, depth: ScopeDepth}
}

// VisibleLocations lists the locations a manager may act on, breadth first.
// It returns nil for admins, who are not restricted.
func (r *ScopeResolver) VisibleLocations(ctx context.Context, caller domain.Caller) ([]string, error) {
	switch caller.Role {
	case domain.RoleAdmin:
		return nil, nil
	case domain.RoleManager:
	default:
		return []string{}, nil
	}
	if caller.LocationID == "" {
		return []string{}, nil
	}

	visible := []string{caller.LocationID}
	frontier := []string{caller.LocationID}
	for level := 0; level < r.depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			children, err := r.locations.ListChildren(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("list children of %s: %w", id, err)
			}
			for _, c := range children {
				if !slices.Contains(visible, c.ID) {
					visible = append(visible, c.ID)
					next = append(next, c.ID)
				}
			}
		}
		frontier = next
	}
	return visible, nil
}

func (r *ScopeResolver) Allows(ctx context.Context, caller domain.Caller, locationID string) (bool, error) {
	if caller.Role == domain.RoleAdmin {
		return true, nil
	}
	visible, err := r.VisibleLocations(ctx, caller)
	if err != nil {
		return false, err
	}
	return slices.Contains(visible, locationID), nil
}

// authorize applies the caller in ctx, if any, to locationID. Locations
// outside the caller's scope are reported as not found.
func (r *ScopeResolver) authorize(ctx context.Context, locationID string) error {
	caller, ok := domain.CallerFromContext(ctx)
	if !ok || locationID == "" {
		return nil
	}
	allowed, err := r.Allows(ctx, caller, locationID)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.Newf(domain.CodeNotFound, "location %s not found", locationID)
	}
	return nil
}

// authorizeOrder applies the caller in ctx to an order. Orders not yet
// allocated belong to no location, so only admins reach them.
func (r *ScopeResolver) authorizeOrder(ctx context.Context, order *domain.Order) error {
	if order.LocationID != "" {
		return r.authorize(ctx, order.LocationID)
	}
	caller, ok := domain.CallerFromContext(ctx)
	if !ok || caller.Role == domain.RoleAdmin {
		return nil
	}
	return domain.Newf(domain.CodeNotFound, "order %s not found", order.ID)
}
