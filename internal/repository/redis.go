package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	suppressedTokenPrefix = "push:token:suppressed:"
	sentFollowPrefix      = "follow:sent:"
)

// RedisRepository offers small helpers around Redis for suppressing invalid
// tokens and remembering which follow notifications were already sent.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Ping checks connectivity.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// IsTokenSuppressed returns true if the token is currently marked as invalid.
func (r *RedisRepository) IsTokenSuppressed(ctx context.Context, token string) (bool, error) {
	exists, err := r.client.Exists(ctx, suppressedTokenPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// SuppressToken stores a token in Redis with a TTL.
func (r *RedisRepository) SuppressToken(ctx context.Context, token string, ttl time.Duration) error {
	return r.client.SetEX(ctx, suppressedTokenPrefix+token, "1", r.ttlOr(ttl)).Err()
}

// Claim marks key as sent. It returns false when the key was already claimed
// and has not expired yet.
func (r *RedisRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, sentFollowPrefix+key, time.Now().Unix(), r.ttlOr(ttl)).Result()
}

// Release forgets a claim so a later redelivery can try again.
func (r *RedisRepository) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, sentFollowPrefix+key).Err()
}

func (r *RedisRepository) ttlOr(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = r.ttl
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return ttl
}
