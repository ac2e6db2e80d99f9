package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "certflow:lease:"

// releaseScript deletes the key only while it still holds our owner value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis keeps leases as expiring keys.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// NewRedisFromURL parses a redis:// URL and returns a lease backed by it.
func NewRedisFromURL(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts)), nil
}

func (r *Redis) Acquire(ctx context.Context, owner string, domains []string, ttl time.Duration) error {
	var acquired []string
	for _, k := range Keys(domains) {
		key := redisKeyPrefix + k
		ok, err := r.client.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			_ = r.Release(ctx, owner, acquired)
			return fmt.Errorf("acquire lease for %s: %w", k, err)
		}
		if !ok {
			current, err := r.client.Get(ctx, key).Result()
			if err == nil && current == owner {
				// Re-entrant: refresh our own lease.
				if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
					_ = r.Release(ctx, owner, acquired)
					return fmt.Errorf("refresh lease for %s: %w", k, err)
				}
			} else {
				_ = r.Release(ctx, owner, acquired)
				return &HeldError{Domain: k}
			}
		}
		acquired = append(acquired, k)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, owner string, domains []string) error {
	for _, k := range Keys(domains) {
		if err := releaseScript.Run(ctx, r.client, []string{redisKeyPrefix + k}, owner).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lease for %s: %w", k, err)
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
