// Package queue schedules backend jobs with dependency ordering, bounded
// retry, and checkpointing for resumability.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/types"
)

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 2 * time.Minute
)

// TerminalFailureHandler is invoked when a job exhausts its retry budget.
// The session store uses it to surface the failure to the user; it is never
// called for retry-eligible failures.
type TerminalFailureHandler func(job types.ProcessingJob, cause error)

// Options configures a Queue.
type Options struct {
	// BackoffBase is the delay before the first retry; each subsequent retry
	// doubles it, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	OnTerminal  TerminalFailureHandler
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Queue is a dependency-ordered, priority-ordered, retryable job queue.
type Queue struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*types.ProcessingJob
	checkpoints map[uuid.UUID]*types.ProcessingCheckpoint
	paused      bool

	backoffBase time.Duration
	backoffMax  time.Duration
	onTerminal  TerminalFailureHandler
	clock       func() time.Time
	logger      *zap.Logger

	// wake is signalled on enqueue, completion, and resume so a runner can
	// block instead of busy-looping on Next.
	wake chan struct{}
}

// New creates an empty queue.
func New(opts Options) *Queue {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		jobs:        make(map[uuid.UUID]*types.ProcessingJob),
		checkpoints: make(map[uuid.UUID]*types.ProcessingCheckpoint),
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		onTerminal:  opts.OnTerminal,
		clock:       opts.Clock,
		logger:      opts.Logger,
		wake:        make(chan struct{}, 1),
	}
}

// Wake returns a channel that receives a signal whenever the set of eligible
// jobs may have changed. Callers of Next must block on it rather than
// polling.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue adds a job in queued state. A dependency id that does not exist in
// the queue is a configuration error and is rejected immediately.
func (q *Queue) Enqueue(job *types.ProcessingJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, exists := q.jobs[job.ID]; exists {
		return &types.ValidationError{Field: "id", Message: "job already enqueued: " + job.ID.String()}
	}
	var dangling []string
	for _, dep := range job.Dependencies {
		if _, ok := q.jobs[dep]; !ok {
			dangling = append(dangling, dep.String())
		}
	}
	if len(dangling) > 0 {
		return &types.DependencyError{ID: job.ID.String(), Missing: dangling, Message: "dangling job dependencies"}
	}

	if job.MaxRetries < 0 {
		job.MaxRetries = 0
	}
	job.Status = types.JobQueued
	job.QueuedAt = q.clock()
	q.jobs[job.ID] = job
	q.logger.Debug("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type),
		zap.Int("priority", job.Priority))
	q.signal()
	return nil
}

// Next claims the highest-priority queued job whose dependencies are all
// completed and whose retry delay has elapsed; ties break by earliest
// QueuedAt. The claimed job transitions to processing. Returns nil when no
// job is eligible or the queue is paused; callers must then wait on Wake.
func (q *Queue) Next() *types.ProcessingJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return nil
	}
	now := q.clock()
	var best *types.ProcessingJob
	for _, job := range q.jobs {
		if job.Status != types.JobQueued {
			continue
		}
		if job.NextRetryAt != nil && job.NextRetryAt.After(now) {
			continue
		}
		if !q.depsCompleted(job) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.QueuedAt.Before(best.QueuedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil
	}
	started := now
	best.Status = types.JobProcessing
	best.StartedAt = &started
	return cloneJob(best)
}

func (q *Queue) depsCompleted(job *types.ProcessingJob) bool {
	for _, dep := range job.Dependencies {
		got, ok := q.jobs[dep]
		if !ok || got.Status != types.JobCompleted {
			return false
		}
	}
	return true
}

// MarkProgress records progress on a processing job and stores partial
// results in the job's checkpoint so work survives interruption.
func (q *Queue) MarkProgress(jobID uuid.UUID, percentage int, partial map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return &types.ValidationError{Field: "job_id", Message: "unknown job: " + jobID.String()}
	}
	if job.Status != types.JobProcessing {
		return &types.InvalidTransitionError{Entity: "job", From: string(job.Status), To: "progress update"}
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	job.Progress = percentage

	cp := q.checkpoints[jobID]
	if cp == nil {
		cp = &types.ProcessingCheckpoint{
			ID: uuid.New(),
			Resume: types.ResumeData{
				Function:   job.Type,
				Parameters: job.Payload,
			},
			Recovery:    types.ErrorRecovery{MaxRetries: job.MaxRetries},
			Performance: types.PerformanceRecord{StartedAt: *job.StartedAt},
		}
		q.checkpoints[jobID] = cp
	}
	cp.Resume.Progress = percentage
	if partial != nil {
		if cp.Resume.PartialResults == nil {
			cp.Resume.PartialResults = make(map[string]any)
		}
		for k, v := range partial {
			cp.Resume.PartialResults[k] = v
		}
	}
	return nil
}

// Complete marks a processing job as terminally successful.
func (q *Queue) Complete(jobID uuid.UUID, result map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return &types.ValidationError{Field: "job_id", Message: "unknown job: " + jobID.String()}
	}
	if job.Status != types.JobProcessing {
		return &types.InvalidTransitionError{Entity: "job", From: string(job.Status), To: string(types.JobCompleted)}
	}
	now := q.clock()
	job.Status = types.JobCompleted
	job.Progress = 100
	job.CompletedAt = &now
	if cp := q.checkpoints[jobID]; cp != nil {
		cp.Resume.Progress = 100
		if result != nil {
			cp.Resume.PartialResults = result
		}
		cp.Performance.EndedAt = &now
		cp.Performance.DurationMs = now.Sub(cp.Performance.StartedAt).Milliseconds()
	}
	q.logger.Debug("job completed", zap.String("job_id", jobID.String()), zap.String("type", job.Type))
	q.signal()
	return nil
}

// Fail records a failure. While retry budget remains the job is re-queued
// with exponential backoff; otherwise it is terminally failed and the
// terminal handler fires. Returns whether the job was re-queued.
func (q *Queue) Fail(jobID uuid.UUID, cause error) (requeued bool, err error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return false, &types.ValidationError{Field: "job_id", Message: "unknown job: " + jobID.String()}
	}
	if job.Status != types.JobProcessing {
		q.mu.Unlock()
		return false, &types.InvalidTransitionError{Entity: "job", From: string(job.Status), To: string(types.JobFailed)}
	}

	now := q.clock()
	job.LastError = cause.Error()
	if cp := q.checkpoints[jobID]; cp != nil {
		cp.Recovery.LastError = cause.Error()
		cp.Recovery.RetryCount = job.RetryCount + 1
	}

	if job.RetryCount < job.MaxRetries {
		delay := q.backoff(job.RetryCount)
		retryAt := now.Add(delay)
		job.RetryCount++
		job.Status = types.JobQueued
		job.StartedAt = nil
		job.NextRetryAt = &retryAt
		if cp := q.checkpoints[jobID]; cp != nil {
			cp.Recovery.NextRetryAt = &retryAt
		}
		q.logger.Warn("job failed, re-queued",
			zap.String("job_id", jobID.String()),
			zap.Int("retry", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("backoff", delay),
			zap.Error(cause))
		q.mu.Unlock()
		q.signal()
		return true, nil
	}

	job.Status = types.JobFailed
	job.FailedAt = &now
	snapshot := *cloneJob(job)
	q.logger.Error("job terminally failed",
		zap.String("job_id", jobID.String()),
		zap.String("type", job.Type),
		zap.Error(cause))
	onTerminal := q.onTerminal
	q.mu.Unlock()

	if onTerminal != nil {
		onTerminal(snapshot, &types.TerminalError{Err: cause})
	}
	q.signal()
	return false, nil
}

// backoff returns the deterministic retry delay for the given retry count:
// base doubled per retry, capped.
func (q *Queue) backoff(retryCount int) time.Duration {
	delay := q.backoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= q.backoffMax {
			return q.backoffMax
		}
	}
	if delay > q.backoffMax {
		delay = q.backoffMax
	}
	return delay
}

// Pause stops Next from dispatching. In-flight jobs are not cancelled.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// Paused reports the global pause flag.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Job returns a copy of the job with the given id, or nil.
func (q *Queue) Job(jobID uuid.UUID) *types.ProcessingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	return cloneJob(job)
}

// Jobs returns copies of all jobs ordered by QueuedAt.
func (q *Queue) Jobs() []types.ProcessingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.ProcessingJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out
}

// Checkpoint returns a copy of the checkpoint recorded for a job, or nil.
func (q *Queue) Checkpoint(jobID uuid.UUID) *types.ProcessingCheckpoint {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp, ok := q.checkpoints[jobID]
	if !ok {
		return nil
	}
	out := *cp
	out.Resume.PartialResults = cloneMap(cp.Resume.PartialResults)
	out.Resume.Parameters = cloneMap(cp.Resume.Parameters)
	return &out
}

// Stats computes the derived aggregate counts and success rate.
func (q *Queue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := types.QueueStats{Total: len(q.jobs)}
	for _, job := range q.jobs {
		switch job.Status {
		case types.JobQueued:
			stats.Queued++
		case types.JobProcessing:
			stats.Processing++
		case types.JobCompleted:
			stats.Completed++
		case types.JobFailed:
			stats.Failed++
		}
	}
	if done := stats.Completed + stats.Failed; done > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(done)
	}
	return stats
}

func cloneJob(job *types.ProcessingJob) *types.ProcessingJob {
	out := *job
	out.Dependencies = append([]uuid.UUID(nil), job.Dependencies...)
	out.Payload = cloneMap(job.Payload)
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// String implements fmt.Stringer for log-friendly queue summaries.
func (q *Queue) String() string {
	s := q.Stats()
	return fmt.Sprintf("queue{total=%d queued=%d processing=%d completed=%d failed=%d}",
		s.Total, s.Queued, s.Processing, s.Completed, s.Failed)
}
