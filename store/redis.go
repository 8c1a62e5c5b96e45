package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps sessions in Redis under a common prefix. A zero TTL keeps keys forever.
type Redis struct {
	conn   *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(conn *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{conn: conn, prefix: prefix, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.conn.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *Redis) Save(ctx context.Context, key string, data []byte) error {
	return r.conn.Set(ctx, r.prefix+key, data, r.ttl).Err()
}

func (r *Redis) Clear(ctx context.Context, key string) error {
	return r.conn.Del(ctx, r.prefix+key).Err()
}
