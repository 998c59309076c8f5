package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realhut/authd/internal/mail"
)

// flakyTransport fails the first failures deliveries per recipient, then
// succeeds.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []string
}

func (t *flakyTransport) Send(_ context.Context, recipient string, _ mail.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls <= t.failures {
		return "", errors.New("transport down")
	}
	t.sent = append(t.sent, recipient)
	return "delivery-1", nil
}

func (t *flakyTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *flakyTransport) delivered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

func fastConfig() Config {
	return Config{
		Workers:     2,
		BufferSize:  16,
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDeliverySucceedsFirstAttempt(t *testing.T) {
	transport := &flakyTransport{}
	q := NewQueue(fastConfig(), transport, nil, nil)
	defer q.Close()

	jobID := q.Enqueue(Job{
		Kind:      KindVerificationOTP,
		Recipient: "a@x.com",
		Message:   mail.Message{Subject: "s", HTML: "<p>123456</p>"},
	})
	require.NotEmpty(t, jobID)

	waitFor(t, func() bool { return len(q.Completed()) == 1 })

	results := q.Completed()
	assert.Equal(t, jobID, results[0].JobID)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, "delivery-1", results[0].DeliveryID)
	assert.Equal(t, []string{"a@x.com"}, transport.delivered())
}

func TestDeliveryRetriesUntilSuccess(t *testing.T) {
	transport := &flakyTransport{failures: 2}
	q := NewQueue(fastConfig(), transport, nil, nil)
	defer q.Close()

	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com"})

	waitFor(t, func() bool { return len(q.Completed()) == 1 })

	results := q.Completed()
	assert.Equal(t, 3, results[0].Attempts)
	assert.Empty(t, q.Failed())
}

func TestDeliveryExhaustsAttemptsAndFailsTerminally(t *testing.T) {
	transport := &flakyTransport{failures: 1000}
	q := NewQueue(fastConfig(), transport, nil, nil)
	defer q.Close()

	q.Enqueue(Job{Kind: KindPasswordReset, Recipient: "a@x.com"})

	waitFor(t, func() bool { return len(q.Failed()) == 1 })

	results := q.Failed()
	assert.Equal(t, 5, results[0].Attempts)
	assert.NotEmpty(t, results[0].Err)
	assert.Empty(t, q.Completed())
}

func TestEnqueueNeverBlocksWhenBufferFull(t *testing.T) {
	// No workers pick anything up until Close, so the buffer fills.
	blocked := make(chan struct{})
	transport := transportFunc(func(ctx context.Context, recipient string, msg mail.Message) (string, error) {
		<-blocked
		return "id", nil
	})

	q := NewQueue(Config{Workers: 1, BufferSize: 2, MaxAttempts: 1, BaseDelay: time.Millisecond}, transport, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full buffer")
	}

	assert.Greater(t, q.Dropped(), uint64(0))
	close(blocked)
	q.Close()
}

type transportFunc func(context.Context, string, mail.Message) (string, error)

func (f transportFunc) Send(ctx context.Context, recipient string, msg mail.Message) (string, error) {
	return f(ctx, recipient, msg)
}

func TestDroppedJobDoesNotSupersedeBufferedOne(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var mu sync.Mutex
	var delivered []string
	transport := transportFunc(func(ctx context.Context, recipient string, msg mail.Message) (string, error) {
		started <- struct{}{}
		<-release
		mu.Lock()
		delivered = append(delivered, recipient)
		mu.Unlock()
		return "id", nil
	})

	q := NewQueue(Config{Workers: 1, BufferSize: 1, MaxAttempts: 1, BaseDelay: time.Millisecond}, transport, nil, nil)

	// Park the single worker on an unrelated job so the buffer is the
	// only place the next jobs can go.
	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "other@x.com"})
	<-started

	// First job for the key fills the one-slot buffer; the second is
	// dropped. The drop must not retire the buffered job.
	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com"})
	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com"})
	assert.Equal(t, uint64(1), q.Dropped())

	close(release)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	count := 0
	for _, r := range delivered {
		if r == "a@x.com" {
			count++
		}
	}
	assert.Equal(t, 1, count, "the buffered job must still be delivered")
}

func TestSupersedeMarkerClearedAfterDelivery(t *testing.T) {
	transport := &flakyTransport{}
	q := NewQueue(fastConfig(), transport, nil, nil)

	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com"})
	q.Enqueue(Job{Kind: KindPasswordReset, Recipient: "b@x.com"})
	waitFor(t, func() bool { return len(q.Completed()) == 2 })
	q.Close()

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.latest)
}

func TestNewerJobSupersedesPendingOne(t *testing.T) {
	var delivered atomic.Int32
	release := make(chan struct{})
	transport := transportFunc(func(ctx context.Context, recipient string, msg mail.Message) (string, error) {
		<-release
		delivered.Add(1)
		return "id", nil
	})

	// Single worker so the second enqueue lands while the queue is busy.
	q := NewQueue(Config{Workers: 1, BufferSize: 16, MaxAttempts: 1, BaseDelay: time.Millisecond}, transport, nil, nil)

	// Occupy the worker.
	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "other@x.com"})

	// Two jobs for the same logical key while the worker is busy: only
	// the newer one should be delivered.
	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com", Message: mail.Message{Subject: "old"}})
	q.Enqueue(Job{Kind: KindVerificationOTP, Recipient: "a@x.com", Message: mail.Message{Subject: "new"}})

	close(release)
	q.Close()

	// other@x.com + the newer a@x.com job.
	assert.Equal(t, int32(2), delivered.Load())
	assert.Len(t, q.Completed(), 2)
}
