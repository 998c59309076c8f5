package kvstore

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

	return New(rdb), mr
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	counter, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, counter)
}

func TestConsumeArmsWindowOnFirstHit(t *testing.T) {
	store, mr := newTestStore(t)
	policy := Policy{Points: 5, Window: time.Minute, BlockDuration: time.Hour}

	counter, err := store.Consume(context.Background(), "k", 1, policy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.ConsumedPoints)
	assert.Greater(t, counter.MsBeforeNext, int64(0))
	assert.LessOrEqual(t, counter.MsBeforeNext, time.Minute.Milliseconds())

	// Subsequent hits must not re-arm the window.
	mr.FastForward(30 * time.Second)
	counter, err = store.Consume(context.Background(), "k", 1, policy)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter.ConsumedPoints)
	assert.LessOrEqual(t, counter.MsBeforeNext, (30 * time.Second).Milliseconds())
}

func TestConsumeArmsBlockWhenCapReached(t *testing.T) {
	store, _ := newTestStore(t)
	policy := Policy{Points: 3, Window: time.Minute, BlockDuration: time.Hour}

	ctx := context.Background()
	var counter *Counter
	var err error
	for i := 0; i < 3; i++ {
		counter, err = store.Consume(ctx, "k", 1, policy)
		require.NoError(t, err)
	}

	// Spending the last point arms the block, but the cap is not yet
	// exceeded: the attempt that spent it is answered normally.
	require.True(t, counter.AtCap(policy))
	require.False(t, counter.Exceeded(policy))
	assert.Greater(t, counter.MsBeforeNext, time.Minute.Milliseconds())
	assert.LessOrEqual(t, counter.MsBeforeNext, time.Hour.Milliseconds())

	// A consumption past the cap does not re-arm the block.
	counter, err = store.Consume(ctx, "k", 1, policy)
	require.NoError(t, err)
	require.True(t, counter.Exceeded(policy))
	assert.LessOrEqual(t, counter.MsBeforeNext, time.Hour.Milliseconds())
}

func TestCounterExpiresWithWindow(t *testing.T) {
	store, mr := newTestStore(t)
	policy := Policy{Points: 5, Window: time.Minute}

	ctx := context.Background()
	_, err := store.Consume(ctx, "k", 1, policy)
	require.NoError(t, err)

	mr.FastForward(time.Minute + time.Second)

	counter, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, counter)
}

func TestDeleteResetsCounter(t *testing.T) {
	store, _ := newTestStore(t)
	policy := Policy{Points: 5, Window: time.Minute}

	ctx := context.Background()
	_, err := store.Consume(ctx, "k", 3, policy)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "k"))

	counter, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, counter)
}
