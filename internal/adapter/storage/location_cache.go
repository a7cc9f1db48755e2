package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/port"
)

const locationKeyPrefix = "location:"

// CachedLocationRegistry is a read-through Redis cache in front of another
// registry. Unknown locations are not cached.
type CachedLocationRegistry struct {
	next   port.LocationRegistry
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedLocationRegistry(next port.LocationRegistry, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedLocationRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLocationRegistry{next: next, client: client, ttl: ttl, logger: logger}
}

func locationKey(id string) string {
	return locationKeyPrefix + id
}

func childrenKey(id string) string {
	return locationKeyPrefix + id + ":children"
}

func (c *CachedLocationRegistry) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var loc domain.Location
	if c.get(ctx, locationKey(id), &loc) {
		return &loc, nil
	}

	found, err := c.next.GetLocation(ctx, id)
	if err != nil || found == nil {
		return found, err
	}
	c.set(ctx, locationKey(id), found)
	return found, nil
}

func (c *CachedLocationRegistry) ListChildren(ctx context.Context, parentID string) ([]domain.Location, error) {
	var children []domain.Location
	if c.get(ctx, childrenKey(parentID), &children) {
		return children, nil
	}

	children, err := c.next.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, childrenKey(parentID), children)
	return children, nil
}

// Invalidate drops a location and its child list from the cache.
func (c *CachedLocationRegistry) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, locationKey(id), childrenKey(id)).Err()
}

func (c *CachedLocationRegistry) get(ctx context.Context, key string, dest any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("location cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("location cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CachedLocationRegistry) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("location cache write failed", zap.String("key", key), zap.Error(err))
	}
}
