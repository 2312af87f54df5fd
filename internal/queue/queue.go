// Package queue defines the job carried by the serial task queue.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// DefaultMaxAttempts bounds how often a job runs before it is abandoned.
const DefaultMaxAttempts = 3

// State is a job's position in its lifecycle.
type State string

const (
	// StateQueued is the initial state.
	StateQueued State = "queued"
	// StateRunning means an attempt is executing.
	StateRunning State = "running"
	// StateRetrying means the job is waiting before its next attempt.
	StateRetrying State = "retrying"
	// StateSucceeded is terminal.
	StateSucceeded State = "succeeded"
	// StateFailed is terminal; all attempts were used.
	StateFailed State = "failed"
	// StateAbandoned is terminal; shutdown interrupted the job.
	StateAbandoned State = "abandoned"
)

// Action is the body of a job. A non-nil error (or a panic) fails the attempt.
type Action func(ctx context.Context) error

// FailureHandler runs once when a job exhausts its attempts.
type FailureHandler func(ctx context.Context, job Job, err error)

// Job is one unit of queued work. Only the worker mutates AttemptsMade.
type Job struct {
	ID           string
	Name         string
	Action       Action
	AttemptsMade int
	MaxAttempts  int
	EnqueuedAt   time.Time
	OnFailure    FailureHandler
}

// Outcome reports how a job ended.
type Outcome struct {
	JobID    string
	Name     string
	State    State
	Attempts int
	Err      error
	Elapsed  time.Duration
}
