package adapters

import (
	"context"

	"github.com/go-redis/redis"
)

// RedisKVStore is the device-local persistent key-value store. Keys are
// namespaced per user so Clear only touches this user's material.
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

func NewRedisKVStore(client *redis.Client, userID string) *RedisKVStore {
	return &RedisKVStore{client: client, prefix: "kv:" + userID + ":"}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(r.prefix + key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(r.prefix+key, value, 0).Err()
}

func (r *RedisKVStore) Remove(ctx context.Context, key string) error {
	return r.client.Del(r.prefix + key).Err()
}

func (r *RedisKVStore) Clear(ctx context.Context) error {
	keys, err := r.client.Keys(r.prefix + "*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(keys...).Err()
}
