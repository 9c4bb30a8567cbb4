package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrMiss is returned by every CacheClient backend when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// MemoryClient is an in-process CacheClient for single-instance deployments.
// Values are stored JSON-encoded so reads never alias cached state.
type MemoryClient struct {
	c *gocache.Cache
}

func NewMemoryClient(defaultTTL time.Duration) *MemoryClient {
	return &MemoryClient{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (m *MemoryClient) Get(_ context.Context, key string, dest any) error {
	v, ok := m.c.Get(key)
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(v.([]byte), dest)
}

func (m *MemoryClient) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.c.Set(key, b, ttl)
	return nil
}
