package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultNamespace prefixes keys written to redis.
const DefaultNamespace = "leaf"

// RedisStore keeps entries in redis under "<namespace>:<key>". It lets
// several client processes on one device share a session.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, namespace string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisStore(client, namespace), nil
}

func newRedisStore(client *redis.Client, namespace string) *RedisStore {
	namespace = strings.TrimSuffix(namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) key(key string) string {
	return r.namespace + ":" + key
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Store. Entries never expire.
func (r *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

// Remove implements Store.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return r.client.Del(ctx, r.key(key)).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
