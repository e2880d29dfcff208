package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a single-process queue for deployments without a broker.
// Messages with the "drop" dedup policy are ignored while an identical
// idempotency key is pending.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     chan *job.ExecutionMessage
	inFlight    map[string]struct{}
	deadLetters []*job.ExecutionMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemoryQueue{
		pending:  make(chan *job.ExecutionMessage, capacity),
		inFlight: map[string]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("gojob: memory queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)

	q.mu.Lock()
	if key != "" && msg.DedupPolicy == job.DeduplicationPolicy("drop") {
		if _, ok := q.inFlight[key]; ok {
			q.mu.Unlock()
			return nil
		}
	}
	if key != "" {
		q.inFlight[key] = struct{}{}
	}
	q.mu.Unlock()

	select {
	case q.pending <- msg:
		return nil
	case <-ctx.Done():
		q.release(key)
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("gojob: memory queue is not configured")
	}
	select {
	case msg := <-q.pending:
		return &memoryDelivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeadLetters returns the messages rejected without requeue.
func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.inFlight, key)
	q.mu.Unlock()
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	})
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	var err error
	d.once.Do(func() {
		key := strings.TrimSpace(d.msg.IdempotencyKey)
		if !opts.Requeue {
			d.queue.release(key)
			if opts.DeadLetter {
				d.queue.mu.Lock()
				d.queue.deadLetters = append(d.queue.deadLetters, d.msg)
				d.queue.mu.Unlock()
			}
			return
		}
		if opts.Delay > 0 {
			timer := time.NewTimer(opts.Delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				d.queue.release(key)
				err = ctx.Err()
				return
			case <-timer.C:
			}
		}
		select {
		case d.queue.pending <- d.msg:
		case <-ctx.Done():
			d.queue.release(key)
			err = ctx.Err()
		}
	})
	return err
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
