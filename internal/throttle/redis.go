package throttle

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pdfhub:login_failures:"

// Redis is a Limiter shared by every process using the same Redis.
type Redis struct {
	client *redis.Client
	policy Policy
}

// NewRedis returns a Redis-backed limiter. Requires Redis 7 (EXPIRE NX).
func NewRedis(client *redis.Client, p Policy) (*Redis, error) {
	if client == nil {
		return nil, errors.New("throttle: redis client cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Redis{client: client, policy: p}, nil
}

func (r *Redis) Allowed(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Get(ctx, keyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("throttle: redis get: %w", err)
	}
	return n < r.policy.MaxFailures, nil
}

// Fail increments the counter and starts the window on the first failure.
func (r *Redis) Fail(ctx context.Context, key string) error {
	k := keyPrefix + key
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, r.policy.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("throttle: redis incr: %w", err)
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("throttle: redis del: %w", err)
	}
	return nil
}
