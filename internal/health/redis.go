// Package health provides dependency probes for the readiness endpoint: the
// Postgres payments store, the Redis rate-limit store, and the M-Pesa Daraja
// gateway.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 2 * time.Second

// RedisChecker reports whether the Redis rate-limit store is reachable.
// Redis is optional; when it is not configured the poll limiter falls back
// to in-memory counters and no RedisChecker is wired.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
	}
}

// HealthCheck sends a PING, bounded by redisPingTimeout.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
