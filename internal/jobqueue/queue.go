package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/logging"
)

// defaultJobTimeout bounds a single attempt. Meeting processing includes
// transcription of long recordings, so the bound is generous.
const defaultJobTimeout = 2 * time.Hour

// Queue runs enqueued actions with retries and exponential backoff.
type Queue struct {
	jobs               []*Job
	mu                 sync.Mutex
	stats              Stats
	jobCounter         int
	stopCh             chan struct{}
	runningJobs        sync.WaitGroup
	isRunning          bool
	maxJobs            int
	jobTimeout         time.Duration
	processingInterval time.Duration
	processCancel      context.CancelFunc
	logger             *slog.Logger
}

// New creates a queue sized from the processing settings.
func New(settings *conf.ProcessingSettings) *Queue {
	maxJobs := settings.QueueSize
	if maxJobs <= 0 {
		maxJobs = 100
	}
	return &Queue{
		jobs:               make([]*Job, 0),
		stopCh:             make(chan struct{}),
		maxJobs:            maxJobs,
		jobTimeout:         defaultJobTimeout,
		processingInterval: time.Second,
		logger:             logging.ForService("jobqueue"),
		stats: Stats{
			ActionStats: make(map[string]ActionStats),
		},
	}
}

// SetProcessingInterval adjusts the scheduler tick, used by tests.
func (q *Queue) SetProcessingInterval(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processingInterval = interval
}

// SetJobTimeout bounds the duration of a single attempt.
func (q *Queue) SetJobTimeout(timeout time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobTimeout = timeout
}

// Start begins processing jobs until the context is cancelled or Stop is
// called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	processCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.processCancel = cancel
	q.mu.Unlock()

	go q.processJobs(processCtx)
}

// Stop halts processing and waits for running jobs to finish.
func (q *Queue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout halts processing, waiting up to timeout for running jobs.
func (q *Queue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	if q.processCancel != nil {
		q.processCancel()
		q.processCancel = nil
	}
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.runningJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}
}

// Enqueue schedules an action for execution. When the queue is full the
// oldest pending job is dropped to make room.
func (q *Queue) Enqueue(action Action, data any, config RetryConfig) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}

	if len(q.jobs) >= q.maxJobs {
		if !q.dropOldestPending() {
			q.stats.DroppedJobs++
			stats := q.stats.ActionStats[action.Description()]
			stats.Dropped++
			q.stats.ActionStats[action.Description()] = stats
			return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.maxJobs)
		}
	}

	q.jobCounter++
	job := &Job{
		ID:          fmt.Sprintf("job-%d", q.jobCounter),
		Action:      action,
		Data:        data,
		MaxAttempts: config.MaxRetries + 1,
		CreatedAt:   time.Now(),
		NextRetryAt: time.Now(),
		Status:      JobStatusPending,
		Config:      config,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	stats := q.stats.ActionStats[action.Description()]
	stats.Description = action.Description()
	stats.Attempted++
	q.stats.ActionStats[action.Description()] = stats

	return job, nil
}

// dropOldestPending removes the oldest pending job. Caller holds q.mu.
func (q *Queue) dropOldestPending() bool {
	oldestIdx := -1
	var oldestTime time.Time
	for i, job := range q.jobs {
		if job.Status != JobStatusPending {
			continue
		}
		if oldestIdx == -1 || job.CreatedAt.Before(oldestTime) {
			oldestIdx = i
			oldestTime = job.CreatedAt
		}
	}
	if oldestIdx == -1 {
		return false
	}

	dropped := q.jobs[oldestIdx]
	q.jobs = append(q.jobs[:oldestIdx], q.jobs[oldestIdx+1:]...)
	q.stats.DroppedJobs++
	stats := q.stats.ActionStats[dropped.Action.Description()]
	stats.Dropped++
	q.stats.ActionStats[dropped.Action.Description()] = stats

	q.logger.Warn("dropped oldest pending job to make room", "job_id", dropped.ID)
	return true
}

func (q *Queue) processJobs(ctx context.Context) {
	q.mu.Lock()
	interval := q.processingInterval
	q.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			q.logger.Debug("job queue processing stopped")
			return
		case <-ctx.Done():
			q.logger.Debug("job queue processing stopped via context", "reason", ctx.Err())
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			q.reapFinishedJobs()
			q.runDueJobs(ctx)
		}
	}
}

// reapFinishedJobs removes completed and permanently failed jobs.
func (q *Queue) reapFinishedJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.jobs[:0]
	for _, job := range q.jobs {
		if job.Status != JobStatusCompleted && job.Status != JobStatusFailed {
			active = append(active, job)
		}
	}
	q.jobs = active
}

func backoffDelay(config RetryConfig, attempt int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt))
	// jitter of +-10%
	jitter := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitter
	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

func (q *Queue) runDueJobs(ctx context.Context) {
	q.mu.Lock()
	var due []*Job
	now := time.Now()
	for _, job := range q.jobs {
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			due = append(due, job)
			job.Status = JobStatusRunning
		}
	}
	q.mu.Unlock()

	for _, job := range due {
		if ctx.Err() != nil {
			q.mu.Lock()
			for _, j := range due {
				if j.Status == JobStatusRunning {
					if j.Attempts > 0 {
						j.Status = JobStatusRetrying
					} else {
						j.Status = JobStatusPending
					}
				}
			}
			q.mu.Unlock()
			return
		}

		q.runningJobs.Add(1)
		go func(j *Job) {
			defer q.runningJobs.Done()
			q.executeJob(ctx, j)
		}(job)
	}
}

func (q *Queue) executeJob(ctx context.Context, job *Job) {
	job.Attempts++
	description := job.Action.Description()

	q.mu.Lock()
	timeout := q.jobTimeout
	if job.Attempts > 1 {
		q.stats.RetryAttempts++
		stats := q.stats.ActionStats[description]
		stats.Retried++
		q.stats.ActionStats[description] = stats
	}
	q.mu.Unlock()

	if job.Attempts > 1 {
		q.logger.Info("retrying job",
			"job_id", job.ID, "action", description,
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var err error
	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job execution panicked: %v", r)
			}
			close(done)
		}()
		err = job.Action.Execute(execCtx, job.Data)
	}()

	select {
	case <-done:
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("job execution timed out after %v: %w", timeout, execCtx.Err())
		} else {
			err = fmt.Errorf("job execution was cancelled: %w", execCtx.Err())
		}
	}
	elapsed := time.Since(start)

	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats.ActionStats[description]
	stats.TotalDuration += elapsed
	stats.LastExecution = time.Now()

	if err != nil {
		job.LastError = err
		stats.LastFailure = time.Now()
		stats.LastErrorString = err.Error()

		if job.Attempts >= job.MaxAttempts || !job.Config.Enabled {
			job.Status = JobStatusFailed
			q.stats.FailedJobs++
			stats.Failed++
			q.logger.Error("job permanently failed",
				"job_id", job.ID, "action", description,
				"attempts", job.Attempts, "error", err)
		} else {
			job.Status = JobStatusRetrying
			delay := backoffDelay(job.Config, job.Attempts)
			job.NextRetryAt = time.Now().Add(delay)
			q.logger.Warn("job failed, scheduling retry",
				"job_id", job.ID, "action", description,
				"retry_in", delay, "attempt", job.Attempts,
				"max_attempts", job.MaxAttempts, "error", err)
		}
	} else {
		job.Status = JobStatusCompleted
		q.stats.SuccessfulJobs++
		stats.Successful++
		stats.LastSuccess = time.Now()
		if job.Attempts > 1 {
			q.logger.Info("job succeeded after retries",
				"job_id", job.ID, "action", description, "attempts", job.Attempts)
		}
	}
	q.stats.ActionStats[description] = stats
}

// GetStats returns a snapshot of the queue statistics.
func (q *Queue) GetStats() StatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := 0
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			pending++
		}
	}

	actionStats := make(map[string]ActionStats, len(q.stats.ActionStats))
	for name, stats := range q.stats.ActionStats {
		actionStats[name] = stats
	}

	utilization := 0.0
	if q.maxJobs > 0 {
		utilization = float64(len(q.jobs)) / float64(q.maxJobs) * 100
	}

	return StatsSnapshot{
		TotalJobs:      q.stats.TotalJobs,
		SuccessfulJobs: q.stats.SuccessfulJobs,
		FailedJobs:     q.stats.FailedJobs,
		DroppedJobs:    q.stats.DroppedJobs,
		RetryAttempts:  q.stats.RetryAttempts,
		PendingJobs:    pending,
		MaxQueueSize:   q.maxJobs,
		Utilization:    utilization,
		ActionStats:    actionStats,
	}
}

// RetryConfigFromSettings builds the retry policy from the processing
// settings.
func RetryConfigFromSettings(settings *conf.ProcessingSettings) RetryConfig {
	config := RetryConfig{
		Enabled:      settings.MaxRetries > 0,
		MaxRetries:   settings.MaxRetries,
		InitialDelay: time.Duration(settings.RetryDelay) * time.Second,
		MaxDelay:     time.Duration(settings.MaxRetryDelay) * time.Second,
		Multiplier:   settings.BackoffMultiplier,
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 30 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Minute
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2
	}
	return config
}
