package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDPurgeExpiredStates = "adconnect.oauth_state.purge_expired"
	scriptPurgeExpiredState = "adconnect/oauth_state/purge_expired"
)

// StatePurger is the service surface the purge job drives.
type StatePurger interface {
	PurgeExpiredStates(ctx context.Context) (int, error)
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NewPurgeMessage builds the purge job for the minute containing now. Jobs of
// the same minute share an idempotency key.
func NewPurgeMessage(now time.Time) *job.ExecutionMessage {
	minute := now.UTC().Truncate(time.Minute)
	return &job.ExecutionMessage{
		JobID:          JobIDPurgeExpiredStates,
		ScriptPath:     scriptPurgeExpiredState,
		Parameters:     map[string]any{"scheduled_at": minute.Format(time.RFC3339)},
		IdempotencyKey: JobIDPurgeExpiredStates + ":" + minute.Format("200601021504"),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// PurgeScheduler enqueues a purge job on every tick.
type PurgeScheduler struct {
	enqueuer queue.Enqueuer
	interval time.Duration
	now      func() time.Time
}

func NewPurgeScheduler(enqueuer queue.Enqueuer, interval time.Duration) (*PurgeScheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("gojob: purge interval must be positive")
	}
	return &PurgeScheduler{
		enqueuer: enqueuer,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *PurgeScheduler) Schedule(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: purge scheduler is not configured")
	}
	return s.enqueuer.Enqueue(ctx, NewPurgeMessage(s.now()))
}

// Run schedules until ctx is cancelled. Enqueue failures are returned.
func (s *PurgeScheduler) Run(ctx context.Context) error {
	if err := s.Schedule(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Schedule(ctx); err != nil {
				return err
			}
		}
	}
}

// PurgeWorker drains purge jobs and runs them against the service.
type PurgeWorker struct {
	dequeuer queue.Dequeuer
	purger   StatePurger
	policy   RetryPolicy
	hook     worker.Hook
	idle     time.Duration
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*PurgeWorker)

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *PurgeWorker) {
		w.hook = hook
	}
}

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *PurgeWorker) {
		w.policy = policy
	}
}

// WithIdleDelay sets the pause after a failed dequeue.
func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(w *PurgeWorker) {
		if delay > 0 {
			w.idle = delay
		}
	}
}

func NewPurgeWorker(dequeuer queue.Dequeuer, purger StatePurger, opts ...WorkerOption) (*PurgeWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if purger == nil {
		return nil, fmt.Errorf("gojob: state purger is required")
	}
	w := &PurgeWorker{
		dequeuer: dequeuer,
		purger:   purger,
		policy:   RetryPolicy{MaxAttempts: 3, MaxDelay: time.Minute},
		idle:     time.Second,
		now:      func() time.Time { return time.Now().UTC() },
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext handles one delivery. Jobs other than the purge job are
// dead-lettered.
func (w *PurgeWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("gojob: purge worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDPurgeExpiredStates {
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "unknown job"})
	}

	attempt := w.nextAttempt(msg.IdempotencyKey)
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: w.now()}
	w.onStart(ctx, event)

	_, runErr := w.purger.PurgeExpiredStates(ctx)
	event.Duration = w.now().Sub(event.StartedAt)
	if runErr == nil {
		w.clearAttempts(msg.IdempotencyKey)
		w.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   time.Duration(attempt) * time.Second,
		Requeue: true,
		Reason:  runErr.Error(),
	}, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		w.onRetry(ctx, event)
	} else {
		w.clearAttempts(msg.IdempotencyKey)
		w.onFailure(ctx, event)
	}
	return delivery.Nack(ctx, opts)
}

// Run processes deliveries until ctx is cancelled.
func (w *PurgeWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.idle):
			}
		}
	}
}

func (w *PurgeWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *PurgeWorker) clearAttempts(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

func (w *PurgeWorker) onStart(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *PurgeWorker) onSuccess(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *PurgeWorker) onFailure(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *PurgeWorker) onRetry(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}
