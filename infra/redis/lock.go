package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it. Without
// the token check a holder whose TTL already lapsed could delete a lock
// acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker implements lock.Manager on Redis using SET NX PX.
type Locker struct {
	cli *redis.Client
}

// NewLocker creates a Locker.
func NewLocker(cli *redis.Client) *Locker { return &Locker{cli: cli} }

// Acquire takes the lock if free. (false, nil) means held by another owner;
// a non-nil error means the store itself is unavailable.
func (l *Locker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return l.cli.SetNX(ctx, key, token, ttl).Result()
}

// Release deletes the lock only if token matches the current owner.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.cli, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
