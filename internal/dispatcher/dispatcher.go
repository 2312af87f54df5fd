// Package dispatcher is the task queue service: it accepts jobs from any
// goroutine and owns the lifecycle of the single worker that executes them.
package dispatcher

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

// ErrNotStarted is returned by Stop when Start was never called.
var ErrNotStarted = errors.New("dispatcher not started")

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("dispatcher already started")

// Queue is the producer side of the task queue.
type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Len() int
	Close()
}

// Runner executes queued jobs one at a time.
type Runner interface {
	Run(ctx context.Context)
	Running() bool
	Busy() bool
}

// Config holds dispatcher defaults.
type Config struct {
	MaxAttempts int
}

// Status is a read-only snapshot of the queue.
type Status struct {
	QueueDepth    int  `json:"queue_depth"`
	WorkerRunning bool `json:"worker_running"`
	Busy          bool `json:"busy"`
	LockHeld      bool `json:"lock_held"`
}

// SubmitOption customizes a submitted job.
type SubmitOption func(*queue.Job)

// WithMaxAttempts overrides the attempt bound for one job.
func WithMaxAttempts(n int) SubmitOption {
	return func(j *queue.Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithID sets the job ID instead of generating one.
func WithID(id string) SubmitOption {
	return func(j *queue.Job) {
		if id != "" {
			j.ID = id
		}
	}
}

// WithFailureHandler registers a hook for a job that exhausts its attempts.
func WithFailureHandler(fn queue.FailureHandler) SubmitOption {
	return func(j *queue.Job) { j.OnFailure = fn }
}

// Dispatcher accepts jobs and runs the worker loop between Start and Stop.
type Dispatcher struct {
	queue  Queue
	runner Runner
	ids    causelist.IDGenerator
	clock  causelist.Clock
	lock   causelist.ExclusiveLock
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Dispatcher. lock and clock may be nil.
func New(
	q Queue,
	runner Runner,
	ids causelist.IDGenerator,
	clock causelist.Clock,
	lock causelist.ExclusiveLock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = queue.DefaultMaxAttempts
	}
	return &Dispatcher{
		queue:  q,
		runner: runner,
		ids:    ids,
		clock:  clock,
		lock:   lock,
		cfg:    cfg,
		logger: logger,
	}
}

// Submit appends a job and returns its ID without waiting for execution.
func (d *Dispatcher) Submit(ctx context.Context, name string, action queue.Action, opts ...SubmitOption) (string, error) {
	if action == nil {
		return "", errors.New("submit: nil action")
	}
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return "", fmt.Errorf("submit %s: %w", name, queue.ErrClosed)
	}

	job := queue.Job{
		Name:        name,
		Action:      action,
		MaxAttempts: d.cfg.MaxAttempts,
		EnqueuedAt:  d.now(),
	}
	for _, opt := range opts {
		opt(&job)
	}
	if job.ID == "" {
		if d.ids == nil {
			return "", errors.New("submit: no id generator configured")
		}
		id, err := d.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("submit %s: %w", name, err)
		}
		job.ID = id
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("queue enqueue: %w", err)
	}
	depth := d.queue.Len()
	metrics.SetQueueDepth(depth)
	d.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("job", name),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Int("queue_depth", depth),
	)
	return job.ID, nil
}

// Start launches the worker loop. The loop outlives ctx's cancellation; only
// Stop ends it.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return queue.ErrClosed
	}
	if d.started {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	go func(done chan struct{}) {
		defer close(done)
		d.runner.Run(runCtx)
	}(d.done)
	d.logger.Info("task queue worker started")
	return nil
}

// Stop refuses new jobs and drops pending ones, then lets the in-flight job
// finish until ctx expires, after which it is cancelled and abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.stopped = true
		d.mu.Unlock()
		d.queue.Close()
		return ErrNotStarted
	}
	alreadyStopped := d.stopped
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if !alreadyStopped {
		dropped := d.queue.Len()
		d.queue.Close()
		d.logger.Info("task queue stopping", zap.Int("dropped_jobs", dropped))
	}

	select {
	case <-done:
		cancel()
		metrics.SetQueueDepth(0)
		return nil
	case <-ctx.Done():
	}
	d.logger.Warn("in-flight job did not finish before shutdown deadline; abandoning")
	cancel()
	<-done
	metrics.SetQueueDepth(0)
	return fmt.Errorf("stop task queue: %w", ctx.Err())
}

// Status reports queue depth and worker state. A failing lock lookup is
// reported as not held.
func (d *Dispatcher) Status(ctx context.Context) Status {
	st := Status{
		QueueDepth:    d.queue.Len(),
		WorkerRunning: d.runner.Running(),
		Busy:          d.runner.Busy(),
	}
	if d.lock != nil {
		held, err := d.lock.Held(ctx)
		if err != nil {
			d.logger.Warn("exclusive lock status unavailable", zap.Error(err))
		}
		st.LockHeld = held && err == nil
	}
	return st
}

func (d *Dispatcher) now() time.Time {
	if d.clock != nil {
		return d.clock.Now()
	}
	return time.Now()
}
