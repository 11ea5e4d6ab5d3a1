package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "castdrop:lease:"

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithKeyPrefix sets the prefix prepended to lease names.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a RedisLocker on an existing client.
func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger, opts ...RedisOption) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	l := &RedisLocker{
		client: client,
		prefix: defaultKeyPrefix,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire sets the lease key if absent.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The request context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release lease",
					slog.String("lease", name),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return release, nil
}
