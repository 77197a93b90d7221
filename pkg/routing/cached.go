package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
)

// ResultCache stores routing results as JSON
type ResultCache interface {
	GetJSONCompressed(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSONCompressed(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CachedService memoizes RouteBetween results of another service
type CachedService struct {
	Service
	cache  ResultCache
	ttl    time.Duration
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedService(service Service, cache ResultCache, ttl time.Duration, logger *slog.Logger) *CachedService {
	return &CachedService{
		Service: service,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With("component", "route_cache", "service", service.Name()),
	}
}

func (c *CachedService) RouteBetween(ctx context.Context, from, to orb.Point, mode TravelMode) (Result, error) {
	key := ResultKey(c.Service.Name(), mode, from, to)

	var cached Result
	found, err := c.cache.GetJSONCompressed(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("route cache read failed", "key", key, "error", err)
	} else if found {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)

	result, err := c.Service.RouteBetween(ctx, from, to, mode)
	if err != nil {
		return Result{}, err
	}

	if err := c.cache.SetJSONCompressed(ctx, key, result, c.ttl); err != nil {
		c.logger.Warn("route cache write failed", "key", key, "error", err)
	}
	return result, nil
}

// CacheStats reports cache hits and misses since start
func (c *CachedService) CacheStats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// ResultKey identifies a routing request; coordinates are rounded to about 1cm
func ResultKey(service string, mode TravelMode, from, to orb.Point) string {
	return fmt.Sprintf("route:%s:%s:%.7f,%.7f:%.7f,%.7f", service, mode, from.Lon(), from.Lat(), to.Lon(), to.Lat())
}
