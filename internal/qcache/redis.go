package qcache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDriver is a cache driver backed by a Redis server.
type RedisDriver struct {
	client *redis.Client
}

// RedisOptions selects the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisDriver connects to Redis and checks the connection.
func NewRedisDriver(ctx context.Context, opts RedisOptions) (*RedisDriver, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisDriver{client: client}, nil
}

func (d *RedisDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := d.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (d *RedisDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return d.client.Set(ctx, key, value, ttl).Err()
}

func (d *RedisDriver) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return d.client.Del(ctx, keys...).Err()
}

func (d *RedisDriver) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return d.client.Expire(ctx, key, ttl).Err()
}

func (d *RedisDriver) Incr(ctx context.Context, key string) (int64, error) {
	return d.client.Incr(ctx, key).Result()
}

// Close closes the connection pool.
func (d *RedisDriver) Close() error {
	return d.client.Close()
}
