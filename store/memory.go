package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory is a process-local store. Values never expire.
type Memory struct {
	c *cache.Cache
}

func NewMemory() *Memory {
	return &Memory{c: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v.([]byte)...), nil
}

func (m *Memory) Save(_ context.Context, key string, data []byte) error {
	m.c.Set(key, append([]byte(nil), data...), cache.NoExpiration)
	return nil
}

func (m *Memory) Clear(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
