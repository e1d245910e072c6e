package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisExpiry evicts through Redis key expiry, so every instance sharing a RedisCache sees the
// same deadline and a Set from any of them clears it.
type RedisExpiry struct {
	cache   *RedisCache
	grace   time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisExpiry(cache *RedisCache, grace time.Duration, logger *zap.Logger) *RedisExpiry {
	if grace <= 0 {
		grace = DefaultEvictionGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisExpiry{
		cache:   cache,
		grace:   grace,
		timeout: 2 * time.Second,
		logger:  logger.Named("expiry"),
	}
}

// Schedule arms the entry's TTL. A driver without a cached entry has nothing to evict.
func (e *RedisExpiry) Schedule(driverID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.cache.Expire(ctx, driverID, e.grace); err != nil {
		evictionsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("arm location expiry", zap.String("driver_id", driverID.String()), zap.Error(err))
	}
}

// Cancel drops a pending TTL.
func (e *RedisExpiry) Cancel(driverID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	removed, err := e.cache.Persist(ctx, driverID)
	if err != nil {
		evictionsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("cancel location expiry", zap.String("driver_id", driverID.String()), zap.Error(err))
		return
	}
	if removed {
		evictionsTotal.WithLabelValues("cancelled").Inc()
	}
}

// Pending reports whether the driver's entry carries a TTL.
func (e *RedisExpiry) Pending(driverID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	ttl, err := e.cache.TTL(ctx, driverID)
	return err == nil && ttl > 0
}
