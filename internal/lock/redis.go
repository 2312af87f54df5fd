package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing a lock owned by someone else.
var ErrNotHeld = errors.New("lock not held by this owner")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client is the subset of the go-redis API the lock uses.
type Client interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// Redis is a lock shared across processes through a single key.
type Redis struct {
	client Client
	key    string
}

// NewRedis wraps client; key names the lock.
func NewRedis(client Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Held reports whether the key exists.
func (r *Redis) Held(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", r.key, err)
	}
	return n > 0, nil
}

// TryAcquire sets the key to token for ttl if nobody holds it.
func (r *Redis) TryAcquire(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", r.key, err)
	}
	return ok, nil
}

// Release deletes the key if it still holds token.
func (r *Redis) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", r.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
