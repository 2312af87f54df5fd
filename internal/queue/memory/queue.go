// Package memory provides the in-process FIFO behind the task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/causelist-crawler/internal/queue"
)

// Queue is an unbounded FIFO safe for concurrent producers. Enqueue never
// blocks; Dequeue waits for work or cancellation.
type Queue struct {
	mu     sync.Mutex
	items  []queue.Job
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends a job.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	q.items = append(q.items, job)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the oldest job, respecting context cancellation. Jobs still
// pending when the queue is closed are dropped.
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return queue.Job{}, queue.ErrClosed
		}
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = queue.Job{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
		case <-q.ready:
		}
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue; it is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}
