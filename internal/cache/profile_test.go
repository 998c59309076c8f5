package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realhut/authd/internal/user"
)

func newCache(t *testing.T) (*miniredis.Miniredis, *ProfileCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewProfileCache(client)
}

func TestGetMissReturnsNil(t *testing.T) {
	_, c := newCache(t)

	p, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSetGetRoundTrip(t *testing.T) {
	mr, c := newCache(t)
	ctx := context.Background()

	want := user.Profile{Name: "Alice", Email: "alice@example.com", EmailVerified: true}
	require.NoError(t, c.Set(ctx, "u1", want))

	got, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	ttl := mr.TTL("user_cache_u1")
	assert.Equal(t, 6*time.Hour, ttl)
}

func TestEntryExpires(t *testing.T) {
	mr, c := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u1", user.Profile{Name: "Alice"}))
	mr.FastForward(6*time.Hour + time.Minute)

	p, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestInvalidate(t *testing.T) {
	_, c := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u1", user.Profile{Name: "Alice"}))
	require.NoError(t, c.Invalidate(ctx, "u1"))

	p, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCorruptEntryTreatedAsMiss(t *testing.T) {
	mr, c := newCache(t)

	mr.Set("user_cache_u1", "{not json")

	p, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, mr.Exists("user_cache_u1"))
}
