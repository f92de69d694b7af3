// Package redislock serializes subject mutations across processes. A lock is
// a SET NX key with a lease; release is a compare-and-delete script so a
// caller never frees a lease that has passed to someone else.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"concord/contexts/team-collaboration/consensus-engine/ports"
)

const (
	defaultNamespace     = "concord:lock"
	defaultLease         = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
)

var errLockBusy = errors.New("lock is held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Option func(*Locker)

func WithNamespace(namespace string) Option {
	return func(l *Locker) {
		if namespace != "" {
			l.namespace = namespace
		}
	}
}

// WithLease bounds how long a crashed holder can block a subject. The
// version check still rejects a writer whose lease ran out.
func WithLease(lease time.Duration) Option {
	return func(l *Locker) {
		if lease > 0 {
			l.lease = lease
		}
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(l *Locker) {
		if interval > 0 {
			l.retryInterval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

type Locker struct {
	client        redis.UniversalClient
	namespace     string
	lease         time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:        client,
		namespace:     defaultNamespace,
		lease:         defaultLease,
		retryInterval: defaultRetryInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect parses a redis address or URL and verifies connectivity.
func Connect(ctx context.Context, addr string, opts ...Option) (*Locker, *redis.Client, error) {
	var redisOpts *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		redisOpts = parsed
	} else {
		redisOpts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, opts...), client, nil
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.namespace + ":" + key
	token := uuid.NewString()

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.lease).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire %s: %w", lockKey, err))
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(l.retryInterval), ctx)
	if err := backoff.Retry(acquire, policy); err != nil {
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil {
			l.logger.Warn("redis lock release failed",
				"event", "consensus_redis_lock_release_failed",
				"module", "team-collaboration/consensus-engine",
				"layer", "adapter",
				"lock_key", lockKey,
				"error", err.Error(),
			)
		}
	}, nil
}

var _ ports.SubjectLocker = (*Locker)(nil)
