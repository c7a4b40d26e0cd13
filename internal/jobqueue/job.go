package jobqueue

import "time"

// Job is one enqueued action with its retry state.
type Job struct {
	ID          string
	Action      Action
	Data        any
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
	Config      RetryConfig
}

// Stats aggregates queue level counters.
type Stats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	DroppedJobs    int
	RetryAttempts  int
	ActionStats    map[string]ActionStats
}

// StatsSnapshot is a point-in-time copy of the queue statistics, exposed
// through the health endpoint.
type StatsSnapshot struct {
	TotalJobs      int                    `json:"total"`
	SuccessfulJobs int                    `json:"successful"`
	FailedJobs     int                    `json:"failed"`
	DroppedJobs    int                    `json:"dropped"`
	RetryAttempts  int                    `json:"retryAttempts"`
	PendingJobs    int                    `json:"pending"`
	MaxQueueSize   int                    `json:"maxSize"`
	Utilization    float64                `json:"utilization"`
	ActionStats    map[string]ActionStats `json:"actions,omitempty"`
}

// ActionStats tracks per action type counters and timings.
type ActionStats struct {
	Description     string        `json:"description"`
	Attempted       int           `json:"attempted"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retried         int           `json:"retried"`
	Dropped         int           `json:"dropped"`
	TotalDuration   time.Duration `json:"-"`
	LastExecution   time.Time     `json:"lastExecution,omitzero"`
	LastSuccess     time.Time     `json:"lastSuccess,omitzero"`
	LastFailure     time.Time     `json:"lastFailure,omitzero"`
	LastErrorString string        `json:"lastError,omitempty"`
}
