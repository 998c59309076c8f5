package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, 0), mr
}

func TestIssueProducesNumericOTPForVerification(t *testing.T) {
	store, _ := newTestStore(t)

	secret, err := store.Issue(context.Background(), PurposeEmailVerification, "user-1")
	require.NoError(t, err)
	require.Len(t, secret, 6)
	for _, ch := range secret {
		assert.True(t, ch >= '0' && ch <= '9')
	}
}

func TestVerifySucceedsAtMostOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	secret, err := store.Issue(ctx, PurposeEmailVerification, "user-1")
	require.NoError(t, err)

	ok, err := store.Verify(ctx, PurposeEmailVerification, "user-1", secret)
	require.NoError(t, err)
	assert.True(t, ok)

	// Replaying the same secret after a successful consume must fail.
	ok, err = store.Verify(ctx, PurposeEmailVerification, "user-1", secret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMismatchLeavesTicketIntact(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	secret, err := store.Issue(ctx, PurposeEmailVerification, "user-1")
	require.NoError(t, err)

	ok, err := store.Verify(ctx, PurposeEmailVerification, "user-1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	// The right secret still works after a wrong guess.
	ok, err = store.Verify(ctx, PurposeEmailVerification, "user-1", secret)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredTicketIndistinguishableFromAbsent(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	secret, err := store.Issue(ctx, PurposePasswordReset, "user-1")
	require.NoError(t, err)

	mr.FastForward(301 * time.Second)

	ok, err := store.Verify(ctx, PurposePasswordReset, "user-1", secret)
	require.NoError(t, err)
	assert.False(t, ok)

	// Never-issued looks exactly the same.
	ok, err = store.Verify(ctx, PurposePasswordReset, "user-2", secret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReissueInvalidatesPriorTicket(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, PurposeEmailVerification, "user-1")
	require.NoError(t, err)
	second, err := store.Issue(ctx, PurposeEmailVerification, "user-1")
	require.NoError(t, err)

	if first != second {
		ok, err := store.Verify(ctx, PurposeEmailVerification, "user-1", first)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := store.Verify(ctx, PurposeEmailVerification, "user-1", second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDifferentPurposesAreIndependentKeyspaces(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	otp, err := store.Issue(ctx, PurposeEmailVerification, "user-1")
	require.NoError(t, err)
	reset, err := store.Issue(ctx, PurposePasswordReset, "user-1")
	require.NoError(t, err)

	ok, err := store.Verify(ctx, PurposePasswordReset, "user-1", otp)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Verify(ctx, PurposeEmailVerification, "user-1", otp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Verify(ctx, PurposePasswordReset, "user-1", reset)
	require.NoError(t, err)
	assert.True(t, ok)
}
