package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// KV is the narrow key-value surface the chunk store needs: an ordered
// list, a set and a single string value per key.
type KV interface {
	ListPush(ctx context.Context, key string, values ...string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListLen(ctx context.Context, key string) (int64, error)

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetCard(ctx context.Context, key string) (int64, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error

	Delete(ctx context.Context, keys ...string) error
}

// RedisKV implements KV on a Redis connection.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV parses a Redis URL (redis://...) and returns a connected
// KV. The connection is verified with a ping.
func NewRedisKV(ctx context.Context, url string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisKV{rdb: rdb}, nil
}

func (r *RedisKV) Close() error { return r.rdb.Close() }

func (r *RedisKV) ListPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.rdb.RPush(ctx, key, args...).Err()
}

func (r *RedisKV) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.rdb.LRange(ctx, key, start, stop).Result()
}

func (r *RedisKV) ListLen(ctx context.Context, key string) (int64, error) {
	return r.rdb.LLen(ctx, key).Result()
}

func (r *RedisKV) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.rdb.SAdd(ctx, key, args...).Err()
}

func (r *RedisKV) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.rdb.SRem(ctx, key, args...).Err()
}

func (r *RedisKV) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.rdb.SIsMember(ctx, key, member).Result()
}

func (r *RedisKV) SetCard(ctx context.Context, key string) (int64, error) {
	return r.rdb.SCard(ctx, key).Result()
}

func (r *RedisKV) SetMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, key).Result()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}
