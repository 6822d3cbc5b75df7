package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pushgate-io/pushgate/internal/channel"
)

// TokenStore keeps provider access tokens in Redis, implementing the
// channel.TokenCache contract. Entries are JSON documents carrying the
// token and its absolute expiry; the Redis TTL is a second guard sitting
// just under the provider's nominal validity window.
//
// There is deliberately no single-flight deduplication: two concurrent
// misses both fetch and both write, last write wins. Either token is
// valid, so this is wasteful but never incorrect.
type TokenStore struct {
	client *Client
	logger *zap.Logger
}

// NewTokenStore creates a token store on top of the shared Redis client.
func NewTokenStore(client *Client, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		client: client,
		logger: logger,
	}
}

func (s *TokenStore) buildKey(key string) string {
	return fmt.Sprintf("pushgate:token:%s", key)
}

// Get returns the cached entry for key, or (nil, nil) when absent.
func (s *TokenStore) Get(ctx context.Context, key string) (*channel.TokenEntry, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry channel.TokenEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		s.logger.Error("failed to unmarshal token entry", zap.Error(err))
		return nil, fmt.Errorf("invalid cached token entry: %w", err)
	}

	return &entry, nil
}

// Put stores entry under key with the given TTL.
func (s *TokenStore) Put(ctx context.Context, key string, entry *channel.TokenEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal token entry: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Delete drops the cached entry so the next Get misses and forces a fresh
// token fetch.
func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
