// Package notify is the asynchronous notification dispatch queue: a
// bounded buffer drained by a fixed worker pool that retries delivery
// with exponential backoff. Enqueueing never blocks the request path.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/realhut/authd/internal/mail"
	"github.com/realhut/authd/internal/metrics"
)

// Kind labels what a job delivers.
type Kind string

const (
	KindVerificationOTP Kind = "verification_otp"
	KindPasswordReset   Kind = "password_reset"
)

// Job is one pending delivery. Kind+Recipient form the logical key: a
// newer job for the same key supersedes an older one that has not been
// picked up yet, so duplicate issuance overwrites instead of stacking.
type Job struct {
	ID        string
	Kind      Kind
	Recipient string
	Message   mail.Message

	seq uint64
}

// Result is the terminal record of a job, kept for observability.
type Result struct {
	JobID      string
	Kind       Kind
	Recipient  string
	DeliveryID string
	Attempts   int
	Err        string
	FinishedAt time.Time
}

// Config tunes the queue. Zero values fall back to the defaults below.
type Config struct {
	Workers     int           // concurrent transport connections (default 5)
	BufferSize  int           // pending jobs before drops (default 128)
	MaxAttempts int           // delivery attempts per job (default 5)
	BaseDelay   time.Duration // first backoff delay (default 3s)

	CompletedRetention time.Duration // default 1h
	CompletedMax       int           // default 100
	FailedRetention    time.Duration // default 24h

	// CloseGrace bounds how long Close keeps retrying drained jobs
	// before cancelling their backoff (default 5s).
	CloseGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 128
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 3 * time.Second
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = time.Hour
	}
	if c.CompletedMax <= 0 {
		c.CompletedMax = 100
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 24 * time.Hour
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 5 * time.Second
	}
	return c
}

// Queue owns jobs from Enqueue until terminal success or attempt
// exhaustion. The caller that enqueued has usually already answered its
// HTTP request; delivery is best-effort and failures are reported here,
// never back to the original caller.
type Queue struct {
	config    Config
	transport mail.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics

	ch     chan *Job
	done   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	seq     atomic.Uint64
	dropped atomic.Uint64

	mu        sync.Mutex
	latest    map[string]uint64
	completed []Result
	failed    []Result

	closeOnce sync.Once
}

func NewQueue(cfg Config, transport mail.Transport, logger *slog.Logger, m *metrics.Metrics) *Queue {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:    cfg,
		transport: transport,
		logger:    logger,
		metrics:   m,
		ch:        make(chan *Job, cfg.BufferSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		latest:    map[string]uint64{},
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.run()
	}

	return q
}

// Enqueue hands a job to the worker pool and returns its id immediately.
// A full buffer drops the job (counted and logged) rather than blocking
// the request path that produced it.
func (q *Queue) Enqueue(job Job) string {
	job.ID = uuid.NewString()
	job.seq = q.seq.Add(1)

	// The supersede marker is only advanced once the job is actually
	// buffered, under the same lock the workers read it with: a dropped
	// job must not retire an older buffered one for the same key.
	q.mu.Lock()
	var sent bool
	select {
	case q.ch <- &job:
		q.latest[jobKey(job.Kind, job.Recipient)] = job.seq
		sent = true
	default:
	}
	q.mu.Unlock()

	if sent {
		q.metrics.IncNotificationsEnqueued()
	} else {
		q.dropped.Add(1)
		q.metrics.IncNotificationsDropped()
		q.logger.Error("notification queue full, job dropped",
			"job_id", job.ID, "kind", job.Kind, "recipient", job.Recipient)
	}

	return job.ID
}

// Dropped returns how many jobs were discarded due to a full buffer.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Completed returns a snapshot of recently delivered jobs.
func (q *Queue) Completed() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	out := make([]Result, len(q.completed))
	copy(out, q.completed)
	return out
}

// Failed returns a snapshot of terminally failed jobs, retained longer
// than completions for manual inspection.
func (q *Queue) Failed() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()
	out := make([]Result, len(q.failed))
	copy(out, q.failed)
	return out
}

// Close stops the workers after draining whatever is already buffered.
// Jobs that are still backing off once the grace period runs out record
// a cancellation failure instead of holding shutdown for their full
// retry schedule. Jobs enqueued after Close may be silently discarded.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		grace := time.AfterFunc(q.config.CloseGrace, q.cancel)
		q.wg.Wait()
		grace.Stop()
		q.cancel()
	})
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.ch:
			q.deliver(job)
		case <-q.done:
			for {
				select {
				case job := <-q.ch:
					q.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(job *Job) {
	if q.superseded(job) {
		q.logger.Debug("skipping superseded notification job",
			"job_id", job.ID, "kind", job.Kind, "recipient", job.Recipient)
		return
	}

	var deliveryID string
	attempts := 0

	backoff := retry.WithMaxRetries(uint64(q.config.MaxAttempts-1),
		retry.WithJitterPercent(50, retry.NewExponential(q.config.BaseDelay)))

	err := retry.Do(q.ctx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			q.metrics.IncNotificationsRetried()
		}

		id, sendErr := q.transport.Send(ctx, job.Recipient, job.Message)
		if sendErr != nil {
			q.logger.Warn("notification delivery attempt failed",
				"job_id", job.ID, "attempt", attempts, "error", sendErr)
			return retry.RetryableError(sendErr)
		}
		deliveryID = id
		return nil
	})

	result := Result{
		JobID:      job.ID,
		Kind:       job.Kind,
		Recipient:  job.Recipient,
		DeliveryID: deliveryID,
		Attempts:   attempts,
		FinishedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked()

	// This job was the newest for its key; nothing left to supersede.
	key := jobKey(job.Kind, job.Recipient)
	if q.latest[key] == job.seq {
		delete(q.latest, key)
	}

	if err != nil {
		result.Err = err.Error()
		q.failed = append(q.failed, result)
		q.metrics.IncNotificationsFailed()
		q.logger.Error("notification job failed terminally",
			"job_id", job.ID, "kind", job.Kind, "recipient", job.Recipient,
			"attempts", attempts, "error", err)
		return
	}

	q.completed = append(q.completed, result)
	q.metrics.IncNotificationsDelivered()
	q.logger.Info("notification delivered",
		"job_id", job.ID, "kind", job.Kind, "recipient", job.Recipient,
		"attempts", attempts, "delivery_id", deliveryID)
}

func (q *Queue) superseded(job *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest[jobKey(job.Kind, job.Recipient)] != job.seq
}

// pruneLocked enforces the retention windows; callers hold q.mu.
func (q *Queue) pruneLocked() {
	now := time.Now()

	kept := q.completed[:0]
	for _, r := range q.completed {
		if now.Sub(r.FinishedAt) < q.config.CompletedRetention {
			kept = append(kept, r)
		}
	}
	q.completed = kept
	if len(q.completed) > q.config.CompletedMax {
		q.completed = q.completed[len(q.completed)-q.config.CompletedMax:]
	}

	keptFailed := q.failed[:0]
	for _, r := range q.failed {
		if now.Sub(r.FinishedAt) < q.config.FailedRetention {
			keptFailed = append(keptFailed, r)
		}
	}
	q.failed = keptFailed
}

func jobKey(kind Kind, recipient string) string {
	return string(kind) + ":" + recipient
}
