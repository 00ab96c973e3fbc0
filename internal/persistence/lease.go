package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseNotHeld is returned when releasing a lease another owner holds or that expired.
var ErrLeaseNotHeld = errors.New("lease not held by this owner")

// ReleaseFunc gives a held lease back.
type ReleaseFunc func(ctx context.Context) error

// Lease guarantees at most one holder at a time for a named job.
type Lease interface {
	// TryAcquire returns ok=false without error when another owner holds the lease.
	TryAcquire(ctx context.Context) (ReleaseFunc, bool, error)
}

// LeaseOption configures a lease.
type LeaseOption func(*leaseConfig)

type leaseConfig struct {
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// WithLeaseTTL sets how long a lease survives a holder that never releases it.
func WithLeaseTTL(ttl time.Duration) LeaseOption {
	return func(c *leaseConfig) { c.ttl = ttl }
}

// WithKeyPrefix namespaces the Redis key.
func WithKeyPrefix(prefix string) LeaseOption {
	return func(c *leaseConfig) { c.prefix = prefix }
}

// WithLeaseClock overrides the clock of an in-process lease.
func WithLeaseClock(now func() time.Time) LeaseOption {
	return func(c *leaseConfig) { c.now = now }
}

func newLeaseConfig(opts []LeaseOption) leaseConfig {
	cfg := leaseConfig{ttl: 5 * time.Minute, prefix: "ticket-sla:lease:", now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

var leaseReleaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type redisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLease creates a lease stored under a Redis key with SET NX PX.
func NewRedisLease(client *redis.Client, name string, opts ...LeaseOption) Lease {
	cfg := newLeaseConfig(opts)
	return &redisLease{client: client, key: cfg.prefix + name, ttl: cfg.ttl}
}

func (l *redisLease) TryAcquire(ctx context.Context) (ReleaseFunc, bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		res, err := leaseReleaseScript.Run(ctx, l.client, []string{l.key}, owner).Int64()
		if err != nil {
			return err
		}
		if res == 0 {
			return ErrLeaseNotHeld
		}
		return nil
	}
	return release, true, nil
}

type localLease struct {
	mu      sync.Mutex
	owner   string
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewLocalLease creates an in-process lease for single-instance runs and tests.
func NewLocalLease(opts ...LeaseOption) Lease {
	cfg := newLeaseConfig(opts)
	return &localLease{ttl: cfg.ttl, now: cfg.now}
}

func (l *localLease) TryAcquire(_ context.Context) (ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.owner != "" && now.Before(l.expires) {
		return nil, false, nil
	}
	owner := uuid.NewString()
	l.owner = owner
	l.expires = now.Add(l.ttl)

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.owner != owner || !l.now().Before(l.expires) {
			return ErrLeaseNotHeld
		}
		l.owner = ""
		return nil
	}
	return release, true, nil
}
