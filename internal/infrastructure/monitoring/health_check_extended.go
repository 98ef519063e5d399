package monitoring

import (
	"context"
	"time"

	"commlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck adds a room repository health check
func (h *HealthChecker) AddRepositoryCheck(repo ports.RoomRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		// Listing rooms exercises the backing store end to end.
		_, err := repo.List(ctx)
		if err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRelayCheck adds a check on the relay server itself.
func (h *HealthChecker) AddRelayCheck(relay interface{ HealthCheck() error }, interval, timeout time.Duration) {
	h.AddCheck("relay", func(ctx context.Context) (bool, error) {
		if err := relay.HealthCheck(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddReadinessCheck creates a readiness check that verifies all dependencies
func (h *HealthChecker) AddReadinessCheck(
	redisClient *redis.Client,
	repo ports.RoomRepository,
	interval, timeout time.Duration,
) {
	h.AddCheck("readiness", func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return false, err
			}
		}

		if repo != nil {
			if _, err := repo.List(ctx); err != nil {
				return false, err
			}
		}

		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
