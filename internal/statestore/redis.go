package statestore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "adlib:state:"

// RedisStore keeps values as plain redis strings. TTL bounds how long a
// forgotten session keeps its view; zero means no expiry.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return NewRedisStore(rdb, ttl), nil
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, redisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "redis get %q", key)
	}
	return v, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(r.rdb.Set(ctx, redisPrefix+key, value, r.ttl).Err(), "redis set %q", key)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.rdb.Del(ctx, redisPrefix+key).Err(), "redis del %q", key)
}

func (r *RedisStore) Close() error { return r.rdb.Close() }
