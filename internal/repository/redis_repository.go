package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisRepository struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRepository stores values as plain Redis strings under prefix.
func NewRedisRepository(rdb *redis.Client, prefix string) Repository {
	return &redisRepository{rdb: rdb, prefix: prefix}
}

// Key Generation Helper
func (r *redisRepository) key(k string) string { return r.prefix + k }

func (r *redisRepository) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %q from redis: %w", key, err)
	}
	return val, nil
}

func (r *redisRepository) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write key %q to redis: %w", key, err)
	}
	return nil
}

func (r *redisRepository) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q from redis: %w", key, err)
	}
	return nil
}
