// Package jobqueue runs meeting processing jobs asynchronously with
// configurable retry backoff.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNilAction    = errors.New("cannot enqueue nil action")
	ErrQueueStopped = errors.New("job queue has been stopped")
	ErrQueueFull    = errors.New("job queue is full")
)

// RetryConfig controls the retry behavior of an enqueued action.
type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Action is a unit of work the queue can execute. Description identifies
// the action type in logs and statistics.
type Action interface {
	Execute(ctx context.Context, data any) error
	Description() string
}

// JobStatus represents the lifecycle state of a queued job.
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusRetrying
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "pending"
	case JobStatusRunning:
		return "running"
	case JobStatusCompleted:
		return "completed"
	case JobStatusFailed:
		return "failed"
	case JobStatusRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}
