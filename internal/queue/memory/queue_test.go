package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/causelist-crawler/internal/queue"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan queue.Job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), queue.Job{ID: "job-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.ID != "job-1" {
			t.Fatalf("expected job-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueIsFIFOAndUnbounded(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := 0; i < 500; i++ {
		if err := q.Enqueue(context.Background(), queue.Job{ID: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if q.Len() != 500 {
		t.Fatalf("expected 500 pending, got %d", q.Len())
	}
	for i := 0; i < 500; i++ {
		job, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if job.ID != fmt.Sprint(i) {
			t.Fatalf("expected job %d, got %s", i, job.ID)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = q.Enqueue(context.Background(), queue.Job{ID: "x"})
			}
		}()
	}
	wg.Wait()
	if q.Len() != 400 {
		t.Fatalf("expected 400 pending, got %d", q.Len())
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}
	if err := q.Enqueue(ctx, queue.Job{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if err := q.Enqueue(context.Background(), queue.Job{ID: "pending"}); err != nil {
		t.Fatal(err)
	}
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), queue.Job{}); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected pending jobs to be dropped, got %d", q.Len())
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseWakesWaiter(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, queue.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiting consumer")
	}
}
