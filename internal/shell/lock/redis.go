package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis is a Locker shared by every process using the same Redis, acquired
// with SET NX PX.
type Redis struct {
	client backend.UniversalClient
	prefix string
}

// NewRedis creates a Redis locker storing keys under prefix.
func NewRedis(client backend.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (l *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	err := acquireLoop(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return false, ErrHeld
			}
			return false, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("redis error releasing lock: %w", err)
		}
		return nil
	}, nil
}
