// Package kvstore wraps Redis with the counter semantics the throttling
// layer is built on: TTL-scoped consumed points with an optional block
// window once a cap is exceeded.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable indicates the counter backend is unreachable.
	ErrUnavailable = errors.New("counter store unavailable")
)

// Policy describes one counter keyspace: how many points fit in a window
// and how long the key is blocked once the cap is exceeded.
type Policy struct {
	Points        int64 // cap of consumed points within Window
	Window        time.Duration
	BlockDuration time.Duration // 0 = no block, key just expires with the window
}

// Counter is the observable state of one key.
type Counter struct {
	ConsumedPoints int64
	MsBeforeNext   int64 // ms until the key resets; -1 when the key has no TTL
}

// Exceeded reports whether the counter is past the policy cap.
func (c *Counter) Exceeded(p Policy) bool {
	return c != nil && c.ConsumedPoints > p.Points
}

// AtCap reports whether the counter has consumed the full budget. A
// read-before-act check blocks here, one attempt earlier than Exceeded:
// once the budget is spent, the next attempt must not reach the
// protected resource at all.
func (c *Counter) AtCap(p Policy) bool {
	return c != nil && c.ConsumedPoints >= p.Points
}

// consumeScript performs INCRBY + window/block TTL management atomically.
// KEYS[1] = counter key
// ARGV[1] = points, ARGV[2] = window ms, ARGV[3] = cap, ARGV[4] = block ms
// The consumption that reaches the cap re-arms the TTL to the block
// duration, so a subsequent AtCap read reports the block window.
// Returns {consumed, pttl}.
var consumeScript = redis.NewScript(`
local current = redis.call('INCRBY', KEYS[1], ARGV[1])
local points = tonumber(ARGV[1])
local cap = tonumber(ARGV[3])
local blockMs = tonumber(ARGV[4])
if current >= cap and blockMs > 0 and current - points < cap then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
elseif current == points then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// Store is a keyed counter store on top of a Redis client. All mutation
// goes through a single Lua script, so concurrent consumers never lose
// updates and never observe a key without its TTL.
type Store struct {
	redis redis.UniversalClient
}

func New(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

// Get returns the current counter state, or nil when the key does not
// exist (never consumed, or expired).
func (s *Store) Get(ctx context.Context, key string) (*Counter, error) {
	pipe := s.redis.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	consumed, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Counter{
		ConsumedPoints: consumed,
		MsBeforeNext:   ttlCmd.Val().Milliseconds(),
	}, nil
}

// Consume adds points to the key under the given policy. The first
// consumption in a window arms the window TTL; the consumption that
// reaches the cap re-arms the TTL to the block duration.
func (s *Store) Consume(ctx context.Context, key string, points int64, p Policy) (*Counter, error) {
	result, err := consumeScript.Run(ctx, s.redis,
		[]string{key},
		points,
		p.Window.Milliseconds(),
		p.Points,
		p.BlockDuration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("%w: unexpected script result", ErrUnavailable)
	}

	return &Counter{
		ConsumedPoints: result[0],
		MsBeforeNext:   result[1],
	}, nil
}

// Delete removes the key outright so the next consumption starts a fresh
// window.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
