package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-chat-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

// CacheClient defines the subset of cache commands we need.
type CacheClient interface {
	// Get fills dest or returns an error if the key is not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedDirectory is a Decorator that adds read-aside caching of per-user
// lookups to any Directory. Chat membership is always read from the source.
type CachedDirectory struct {
	realStore dispatch.Directory
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDirectory(realStore dispatch.Directory, cache CacheClient, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

type cachedName struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
}

func (s *CachedDirectory) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	key := fmt.Sprintf("notify:name:%s", userID)

	var hit cachedName
	if err := s.cache.Get(ctx, key, &hit); err == nil {
		return hit.Name, hit.Found, nil
	}

	name, found, err := s.realStore.DisplayName(ctx, userID)
	if err != nil {
		return "", false, err
	}

	// Cache write failures are ignored.
	_ = s.cache.Set(ctx, key, cachedName{Name: name, Found: found}, s.ttl)
	return name, found, nil
}

func (s *CachedDirectory) PushToken(ctx context.Context, userID string) (string, error) {
	key := fmt.Sprintf("notify:token:%s", userID)

	var token string
	if err := s.cache.Get(ctx, key, &token); err == nil {
		return token, nil
	}

	token, err := s.realStore.PushToken(ctx, userID)
	if err != nil {
		return "", err
	}
	// An unregistered device may register at any moment; only cache real tokens.
	if token != "" {
		_ = s.cache.Set(ctx, key, token, s.ttl)
	}
	return token, nil
}

func (s *CachedDirectory) ChatRecipients(ctx context.Context, chatID, excludeUserID string) ([]push.Recipient, error) {
	return s.realStore.ChatRecipients(ctx, chatID, excludeUserID)
}
