// Package cache keeps user profiles in Redis so the profile endpoint
// does not hit Postgres on every authenticated request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realhut/authd/internal/user"
)

const (
	keyPrefix  = "user_cache_"
	defaultTTL = 6 * time.Hour
)

type ProfileCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewProfileCache(client redis.UniversalClient) *ProfileCache {
	return &ProfileCache{client: client, ttl: defaultTTL}
}

// Get returns the cached profile, or (nil, nil) on a miss. A corrupt
// entry is treated as a miss and evicted.
func (c *ProfileCache) Get(ctx context.Context, userID string) (*user.Profile, error) {
	raw, err := c.client.Get(ctx, keyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile cache: %w", err)
	}

	var p user.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		_ = c.client.Del(ctx, keyPrefix+userID).Err()
		return nil, nil
	}
	return &p, nil
}

func (c *ProfileCache) Set(ctx context.Context, userID string, p user.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+userID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write profile cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached profile. Called after any mutation of the
// underlying account so stale data never outlives an update.
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate profile cache: %w", err)
	}
	return nil
}
