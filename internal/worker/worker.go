// Package worker implements the single serial job executor behind the task
// queue: one job at a time, a fixed retry schedule, and a pause while an
// unrelated exclusive operation holds the shared lock.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/metrics"
	"github.com/JakeFAU/causelist-crawler/internal/queue"
)

// Queue is the consumer side of the task queue.
type Queue interface {
	Dequeue(ctx context.Context) (queue.Job, error)
	Len() int
}

// Config controls the retry schedule and lock polling.
type Config struct {
	// FirstRetryDelay precedes the second attempt.
	FirstRetryDelay time.Duration
	// RetryDelay precedes every attempt after the second.
	RetryDelay       time.Duration
	LockPollInterval time.Duration
	// FailureTimeout bounds the failure handler once a job is abandoned.
	FailureTimeout time.Duration
}

// DefaultConfig mirrors the production schedule: 45s, then 15s, polling every 15s.
func DefaultConfig() Config {
	return Config{
		FirstRetryDelay:  45 * time.Second,
		RetryDelay:       15 * time.Second,
		LockPollInterval: 15 * time.Second,
		FailureTimeout:   30 * time.Second,
	}
}

// Worker consumes queue items and executes them one at a time.
type Worker struct {
	queue    Queue
	lock     causelist.ExclusiveLock
	clock    causelist.Clock
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	onFinish func(queue.Outcome)

	mu      sync.Mutex
	running bool
	busy    bool
}

// Option customizes a Worker.
type Option func(*Worker)

// WithSleep replaces the backoff sleeper; tests use it to record waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = fn }
}

// WithOnFinish registers a callback invoked after every terminal outcome.
func WithOnFinish(fn func(queue.Outcome)) Option {
	return func(w *Worker) { w.onFinish = fn }
}

// New constructs a Worker. A nil lock is never held.
func New(
	q Queue,
	lock causelist.ExclusiveLock,
	clock causelist.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockPollInterval <= 0 {
		cfg.LockPollInterval = 15 * time.Second
	}
	if cfg.FailureTimeout <= 0 {
		cfg.FailureTimeout = 30 * time.Second
	}
	w := &Worker{
		queue:  q,
		lock:   lock,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	w.setRunning(true)
	defer w.setRunning(false)
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		outcome := w.Process(ctx, job)
		if w.onFinish != nil {
			w.onFinish(outcome)
		}
	}
}

// Running reports whether the Run loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Busy reports whether an attempt is executing right now.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Process drives one job through its attempts and returns the terminal outcome.
func (w *Worker) Process(ctx context.Context, job queue.Job) queue.Outcome {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = queue.DefaultMaxAttempts
	}
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("job", job.Name))
	start := w.now()

	var lastErr error
	for attempt := 1; attempt <= job.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := w.cfg.RetryDelay
			if attempt == 2 {
				delay = w.cfg.FirstRetryDelay
			}
			log.Info("job retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			if err := w.sleep(ctx, delay); err != nil {
				return w.abandon(log, job, start, err)
			}
		}
		if err := w.waitForLock(ctx, log); err != nil {
			return w.abandon(log, job, start, err)
		}

		job.AttemptsMade = attempt
		log.Info("job running", zap.Int("attempt", attempt), zap.Int("max_attempts", job.MaxAttempts))
		err := w.runAttempt(ctx, job)
		if err == nil {
			metrics.ObserveAttempt("succeeded")
			metrics.ObserveJob(string(queue.StateSucceeded))
			log.Info("job succeeded", zap.Int("attempt", attempt))
			return queue.Outcome{
				JobID: job.ID, Name: job.Name, State: queue.StateSucceeded,
				Attempts: attempt, Elapsed: w.now().Sub(start),
			}
		}
		metrics.ObserveAttempt("failed")
		lastErr = err
		log.Warn("job attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			return w.abandon(log, job, start, ctx.Err())
		}
	}

	finalErr := fmt.Errorf("%w after %d attempts: %w", causelist.ErrJobFailed, job.AttemptsMade, lastErr)
	metrics.ObserveJob(string(queue.StateFailed))
	log.Error("job failed", zap.Int("attempts", job.AttemptsMade), zap.Error(lastErr))
	if job.OnFailure != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FailureTimeout)
		job.OnFailure(hctx, job, finalErr)
		cancel()
	}
	return queue.Outcome{
		JobID: job.ID, Name: job.Name, State: queue.StateFailed,
		Attempts: job.AttemptsMade, Err: finalErr, Elapsed: w.now().Sub(start),
	}
}

// runAttempt executes the action, converting a panic into an error.
func (w *Worker) runAttempt(ctx context.Context, job queue.Job) (err error) {
	w.setBusy(true)
	defer w.setBusy(false)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	if job.Action == nil {
		return errors.New("job has no action")
	}
	return job.Action(ctx)
}

// waitForLock polls until the exclusive lock is free. Lock lookup errors are
// logged and treated as free so a broken lock store cannot stall the queue.
func (w *Worker) waitForLock(ctx context.Context, log *zap.Logger) error {
	if w.lock == nil {
		return nil
	}
	for {
		held, err := w.lock.Held(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("exclusive lock check failed", zap.Error(err))
			return nil
		}
		if !held {
			return nil
		}
		log.Info("exclusive lock held, waiting", zap.Duration("poll", w.cfg.LockPollInterval))
		if err := w.sleep(ctx, w.cfg.LockPollInterval); err != nil {
			return err
		}
	}
}

func (w *Worker) abandon(log *zap.Logger, job queue.Job, start time.Time, err error) queue.Outcome {
	metrics.ObserveJob(string(queue.StateAbandoned))
	log.Warn("job abandoned", zap.Int("attempts", job.AttemptsMade), zap.Error(err))
	return queue.Outcome{
		JobID: job.ID, Name: job.Name, State: queue.StateAbandoned,
		Attempts: job.AttemptsMade, Err: err, Elapsed: w.now().Sub(start),
	}
}

func (w *Worker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

func (w *Worker) setBusy(v bool) {
	w.mu.Lock()
	w.busy = v
	w.mu.Unlock()
	metrics.SetWorkerBusy(v)
}

func (w *Worker) now() time.Time {
	if w.clock != nil {
		return w.clock.Now()
	}
	return time.Now()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
