package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultRedisTTL      = 30 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	redisKeyPrefix       = "pitboss:lock:"
)

// Redis is a SET NX based lock shared by every engine process.
type Redis struct {
	client        *redis.Client
	script        *redis.Script
	log           *zap.Logger
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:        client,
		script:        redis.NewScript(lockReleaseScript),
		log:           log.Named("lock.redis"),
		ttl:           defaultRedisTTL,
		retryInterval: defaultRetryInterval,
	}
}

// TryLock makes a single acquisition attempt.
func (l *Redis) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := l.Release(context.Background(), key, token); err != nil {
					l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Redis) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{redisKeyPrefix + key}, token).Err()
}
