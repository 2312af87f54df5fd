package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/queue"
	"github.com/JakeFAU/causelist-crawler/internal/queue/memory"
)

// unitConfig scales the production schedule down to milliseconds.
func unitConfig() Config {
	return Config{
		FirstRetryDelay:  45 * time.Millisecond,
		RetryDelay:       15 * time.Millisecond,
		LockPollInterval: 15 * time.Millisecond,
		FailureTimeout:   time.Second,
	}
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func failTimes(n int, calls *atomic.Int32) queue.Action {
	return func(context.Context) error {
		if calls.Add(1) <= int32(n) {
			return errors.New("site structure changed")
		}
		return nil
	}
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	w := New(memory.NewQueue(), nil, nil, unitConfig(), nil, WithSleep(rec.sleep))

	var calls atomic.Int32
	out := w.Process(context.Background(), queue.Job{ID: "job-1", Action: failTimes(2, &calls), MaxAttempts: 3})

	require.Equal(t, queue.StateSucceeded, out.State)
	require.Equal(t, 3, out.Attempts)
	require.NoError(t, out.Err)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{45 * time.Millisecond, 15 * time.Millisecond}, rec.recorded())
}

func TestWorkerRetryScheduleElapsed(t *testing.T) {
	t.Parallel()

	w := New(memory.NewQueue(), nil, nil, unitConfig(), nil)

	var calls atomic.Int32
	start := time.Now()
	out := w.Process(context.Background(), queue.Job{ID: "job-1", Action: failTimes(2, &calls), MaxAttempts: 3})

	require.Equal(t, queue.StateSucceeded, out.State)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	w := New(memory.NewQueue(), nil, nil, unitConfig(), nil, WithSleep(rec.sleep))

	var calls atomic.Int32
	var failures []error
	job := queue.Job{
		ID:          "job-2",
		Action:      failTimes(100, &calls),
		MaxAttempts: 3,
		OnFailure: func(ctx context.Context, job queue.Job, err error) {
			require.NoError(t, ctx.Err())
			require.Equal(t, 3, job.AttemptsMade)
			failures = append(failures, err)
		},
	}
	out := w.Process(context.Background(), job)

	require.Equal(t, queue.StateFailed, out.State)
	require.Equal(t, 3, out.Attempts)
	require.EqualValues(t, 3, calls.Load())
	require.ErrorIs(t, out.Err, causelist.ErrJobFailed)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], causelist.ErrJobFailed)
	require.Equal(t, []time.Duration{45 * time.Millisecond, 15 * time.Millisecond}, rec.recorded())
}

func TestWorkerDefaultsMaxAttempts(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	w := New(memory.NewQueue(), nil, nil, unitConfig(), nil, WithSleep(rec.sleep))

	var calls atomic.Int32
	out := w.Process(context.Background(), queue.Job{ID: "job-3", Action: failTimes(100, &calls)})
	require.Equal(t, queue.StateFailed, out.State)
	require.Equal(t, queue.DefaultMaxAttempts, out.Attempts)
}

func TestWorkerRecoversPanics(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	w := New(memory.NewQueue(), nil, nil, unitConfig(), nil, WithSleep(rec.sleep))

	var calls atomic.Int32
	out := w.Process(context.Background(), queue.Job{
		ID: "job-4",
		Action: func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("nil map")
			}
			return nil
		},
		MaxAttempts: 3,
	})
	require.Equal(t, queue.StateSucceeded, out.State)
	require.Equal(t, 2, out.Attempts)
}

func TestWorkerWaitsForExclusiveLock(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	lock := &fakeLock{heldFor: 2}
	w := New(memory.NewQueue(), lock, nil, unitConfig(), nil, WithSleep(rec.sleep))

	var ran atomic.Bool
	out := w.Process(context.Background(), queue.Job{
		ID: "job-5",
		Action: func(context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	require.Equal(t, queue.StateSucceeded, out.State)
	require.True(t, ran.Load())
	require.Equal(t, []time.Duration{15 * time.Millisecond, 15 * time.Millisecond}, rec.recorded())
}

func TestWorkerProceedsWhenLockLookupFails(t *testing.T) {
	t.Parallel()

	w := New(memory.NewQueue(), &fakeLock{err: errors.New("redis down")}, nil, unitConfig(), nil)
	out := w.Process(context.Background(), queue.Job{ID: "job-6", Action: func(context.Context) error { return nil }})
	require.Equal(t, queue.StateSucceeded, out.State)
}

func TestWorkerAbandonsOnCancel(t *testing.T) {
	t.Parallel()

	w := New(memory.NewQueue(), nil, nil, Config{FirstRetryDelay: time.Hour, RetryDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var failed atomic.Bool
	done := make(chan queue.Outcome, 1)
	go func() {
		done <- w.Process(ctx, queue.Job{
			ID:        "job-7",
			Action:    func(context.Context) error { return errors.New("boom") },
			OnFailure: func(context.Context, queue.Job, error) { failed.Store(true) },
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		require.Equal(t, queue.StateAbandoned, out.State)
		require.Equal(t, 1, out.Attempts)
		require.False(t, failed.Load())
	case <-time.After(time.Second):
		t.Fatal("worker did not abandon the job on cancel")
	}
}

func TestWorkerRunIsSerial(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	var outcomes []queue.Outcome
	var mu sync.Mutex
	w := New(q, nil, nil, unitConfig(), nil, WithOnFinish(func(o queue.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}))

	var active, peak atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), queue.Job{
			ID: fmt.Sprintf("job-%d", i),
			Action: func(context.Context) error {
				n := active.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			},
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 5
	}, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, peak.Load())
	require.True(t, w.Running())
	require.Equal(t, 0, q.Len())

	mu.Lock()
	for i, o := range outcomes {
		require.Equal(t, fmt.Sprintf("job-%d", i), o.JobID)
	}
	mu.Unlock()

	q.Close()
	require.Eventually(t, func() bool { return !w.Running() }, time.Second, 5*time.Millisecond)
}

type fakeLock struct {
	mu      sync.Mutex
	heldFor int
	calls   int
	err     error
}

func (l *fakeLock) Held(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= l.heldFor, nil
}
