package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of go-redis used by Redis.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis shares the token set between bridge replicas. Entries always carry
// a ttl so a crashed replica cannot block a token forever.
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redisClient, prefix string, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("redis dedup ttl must be positive")
	}
	if prefix == "" {
		prefix = "msgbridge:send:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *Redis) Add(ctx context.Context, token string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+token, time.Now().UnixMilli(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", token, err)
	}
	return ok, nil
}

func (r *Redis) Remove(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.prefix+token).Err(); err != nil {
		return fmt.Errorf("del %s: %w", token, err)
	}
	return nil
}

func (r *Redis) Find(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", token, err)
	}
	return n > 0, nil
}
