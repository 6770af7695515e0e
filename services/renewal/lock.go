package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grc-license-controlplane/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("renewal run already in progress")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
	node   *snowflake.Node
}

func NewRedisLocker(client *redis.Client, node *snowflake.Node) *RedisLocker {
	return &RedisLocker{client: client, node: node}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	token := l.node.Generate().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// RunGuarded runs one pass under the daily lock. A nil locker runs unguarded.
func (s *Service) RunGuarded(ctx context.Context, locker Locker, ttl time.Duration) error {
	if locker == nil {
		return s.Run(ctx)
	}

	unlock, err := locker.Acquire(ctx, rediskey.BuildRenewalLockKey(s.now()), ttl)
	if err != nil {
		return err
	}
	defer func() {
		// The run context may already be cancelled.
		_ = unlock(context.WithoutCancel(ctx))
	}()

	return s.Run(ctx)
}
