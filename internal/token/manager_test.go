package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *miniredis.Miniredis, *time.Time) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Now()
	mgr, err := NewManager(Config{Secret: []byte("test-secret-0123456789"), TTL: ttl, Issuer: "authd"}, rdb)
	require.NoError(t, err)
	mgr.WithClock(func() time.Time { return now })

	return mgr, mr, &now
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	mgr, _, _ := newTestManager(t, time.Hour)

	raw, err := mgr.Issue("user-1", "buyer")
	require.NoError(t, err)

	claims, err := mgr.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "buyer", claims.Role)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	mgr, _, _ := newTestManager(t, time.Hour)

	raw, err := mgr.Issue("user-1", "buyer")
	require.NoError(t, err)

	_, err = mgr.Validate(context.Background(), raw+"x")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	mgr, _, now := newTestManager(t, time.Hour)

	raw, err := mgr.Issue("user-1", "buyer")
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)

	_, err = mgr.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRevokedTokenFailsUntilNaturalExpiry(t *testing.T) {
	mgr, mr, now := newTestManager(t, time.Hour)
	ctx := context.Background()

	raw, err := mgr.Issue("user-1", "buyer")
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(ctx, raw))

	// Signature and embedded expiry are still nominally valid.
	_, err = mgr.Validate(ctx, raw)
	assert.ErrorIs(t, err, ErrRevoked)

	// Once the entry's TTL elapses the blacklist entry is gone (bounded
	// storage), but by then the token itself has naturally expired.
	mr.FastForward(time.Hour + time.Minute)
	*now = now.Add(time.Hour + time.Minute)

	assert.Empty(t, mr.Keys())

	_, err = mgr.Validate(ctx, raw)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRevokeExpiredTokenIsNoOp(t *testing.T) {
	mgr, mr, now := newTestManager(t, time.Hour)

	raw, err := mgr.Issue("user-1", "buyer")
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)

	require.NoError(t, mgr.Revoke(context.Background(), raw))
	assert.Empty(t, mr.Keys())
}

func TestValidateFailsClosedWhenBlacklistUnreachable(t *testing.T) {
	mgr, mr, _ := newTestManager(t, time.Hour)

	raw, err := mgr.Issue("user-1", "buyer")
	require.NoError(t, err)

	mr.Close()

	_, err = mgr.Validate(context.Background(), raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
