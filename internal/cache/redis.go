package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces agent cache entries in a shared Redis.
const redisKeyPrefix = "sessionguard:cache:"

// envelope is the JSON stored per key so readers can judge freshness
// with their own staleAfter windows.
type envelope struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Value     json.RawMessage `json:"value"`
}

// RedisTier implements Tier on a shared Redis instance.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to Redis at addr and verifies it with a ping.
func NewRedisTier(addr, username, password string, db int) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), tierTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisTier{client: client}, nil
}

// Get returns the stored value bytes and fetch time for key.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	data, err := t.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, false, err
	}
	return env.Value, env.FetchedAt, true, nil
}

// Set stores value bytes under key with the given TTL.
func (t *RedisTier) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	env := envelope{FetchedAt: time.Now().UTC(), Value: data}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, redisKeyPrefix+key, buf, ttl).Err()
}

// DeletePrefix removes every key starting with prefix using SCAN so the
// shared instance is not blocked by a KEYS sweep.
func (t *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	iter := t.client.Scan(ctx, 0, redisKeyPrefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return t.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Close releases the Redis connection.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
