package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dhastore/backend/internal/store"
)

// DefaultBackupTTL matches the one-year lifetime of the browser cookie
// backup the counter used to rely on.
const DefaultBackupTTL = 365 * 24 * time.Hour

// RedisBackup is the secondary medium: every write refreshes a fixed,
// long expiry so a copy outlives an evicted primary.
type RedisBackup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackup(addr string, password string, db int, ttl time.Duration) *RedisBackup {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisBackupFromClient(client, ttl)
}

func NewRedisBackupFromClient(client *redis.Client, ttl time.Duration) *RedisBackup {
	if ttl <= 0 {
		ttl = DefaultBackupTTL
	}
	return &RedisBackup{client: client, ttl: ttl}
}

func (c *RedisBackup) Name() string {
	return "redis"
}

func (c *RedisBackup) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBackup) Close() error {
	return c.client.Close()
}

func (c *RedisBackup) Read(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisBackup) Write(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, c.ttl).Err()
}

var _ store.Medium = (*RedisBackup)(nil)
