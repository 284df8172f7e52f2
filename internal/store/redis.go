package store

import (
	"context"
	"errors"
	"lambdabridge/internal/apperrors"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding every entry.
const DefaultRedisKey = "lambdabridge:kv"

// Redis stores entries as fields of one hash.
type Redis struct {
	client *redis.Client
	key    string
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Store("redis.Ping", err)
	}
	return NewRedis(client, DefaultRedisKey), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.NotFound("key", key)
	}
	if err != nil {
		return "", apperrors.Store("redis.HGet", err)
	}
	return value, nil
}

func (r *Redis) Put(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.key, key, value).Err(); err != nil {
		return apperrors.Store("redis.HSet", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.client.HDel(ctx, r.key, key).Result()
	if err != nil {
		return apperrors.Store("redis.HDel", err)
	}
	if n == 0 {
		return apperrors.NotFound("key", key)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, apperrors.Store("redis.HGetAll", err)
	}
	entries := make([]Entry, 0, len(all))
	for k, v := range all {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
