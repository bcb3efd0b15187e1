package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/esg-compliance-api/pkg/cache"
)

// CacheRepository stores JSON payloads in Redis. A nil client disables caching.
type CacheRepository struct {
	client redis.UniversalClient
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client redis.UniversalClient) *CacheRepository {
	return &CacheRepository{client: client}
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return cache.ErrMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cache.ErrMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping checks connectivity. A disabled cache is always reachable.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

const revokedPrefix = "auth:revoked:"

// TokenRevocationRepository remembers revoked access-token ids until they expire.
type TokenRevocationRepository struct {
	client redis.UniversalClient
}

// NewTokenRevocationRepository wraps a redis client. A nil client never reports revocations.
func NewTokenRevocationRepository(client redis.UniversalClient) *TokenRevocationRepository {
	return &TokenRevocationRepository{client: client}
}

// Revoke marks jti revoked for ttl. Non-positive ttls are ignored since the
// token has already expired.
func (r *TokenRevocationRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if r.client == nil || jti == "" || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token %s: %w", jti, err)
	}
	return nil
}

// IsRevoked reports whether jti was revoked.
func (r *TokenRevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if r.client == nil || jti == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check token %s: %w", jti, err)
	}
	return n > 0, nil
}
