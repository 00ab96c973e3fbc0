package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/config"
)

const redisTimeout = 3 * time.Second

// Redis is the coordination store that keeps SLA ticks from overlapping across
// instances.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to cfg.Addr. An unreachable server does not stop startup: tick
// leases then fail and ticks run unguarded until Redis answers again.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, sla ticks run unguarded until it recovers",
			zap.String("addr", cfg.Addr),
			zap.Error(err),
		)
	} else {
		logger.Info("redis lease store ready", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix}
}

// TickLease returns the lease named name under the configured key prefix.
func (r *Redis) TickLease(name string, ttl time.Duration) Lease {
	opts := []LeaseOption{WithLeaseTTL(ttl)}
	if r.prefix != "" {
		opts = append(opts, WithKeyPrefix(r.prefix))
	}
	return NewRedisLease(r.client, name, opts...)
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.client != nil {
		_ = r.client.Close()
	}
}

// Ping reports whether leases can currently be taken.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return errors.New("redis client not configured")
	}
	return r.client.Ping(ctx).Err()
}
