package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "demandcast:snapshot:"

// RedisStore keeps snapshots as json strings under a key prefix
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore uses client with the given key prefix. A zero ttl keeps snapshots forever.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.Key == "" {
		return ErrInvalidKey
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("unable to marshal snapshot, %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+snap.Key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("unable to save snapshot %s, %w", snap.Key, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, key string) (Snapshot, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%s, %w", key, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("unable to load snapshot %s, %w", key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unable to unmarshal snapshot %s, %w", key, err)
	}
	return snap, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("unable to delete snapshot %s, %w", key, err)
	}
	return nil
}
