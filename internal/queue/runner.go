package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// Executor performs the actual backend work for a job. The queue is agnostic
// to what a job does; results are opaque key-value maps passed back through
// the checkpoint.
type Executor interface {
	Execute(ctx context.Context, job types.ProcessingJob, report func(percentage int, partial map[string]any)) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job types.ProcessingJob, report func(int, map[string]any)) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, job types.ProcessingJob, report func(int, map[string]any)) (map[string]any, error) {
	return f(ctx, job, report)
}

// Runner drives a Queue against an Executor with a fixed worker pool.
// Workers block on the queue's wake channel when no job is eligible rather
// than polling.
type Runner struct {
	queue   *Queue
	exec    Executor
	workers int
	logger  *zap.Logger

	// idlePoll bounds how long a worker sleeps when the wake channel is
	// quiet; retry backoff windows expire without generating a wake signal.
	idlePoll time.Duration
}

// NewRunner creates a runner with the given worker count (minimum 1).
func NewRunner(q *Queue, exec Executor, workers int, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{queue: q, exec: exec, workers: workers, logger: logger, idlePoll: 250 * time.Millisecond}
}

// Run blocks until ctx is cancelled, dispatching eligible jobs to the
// executor. In-flight jobs observe cancellation through their own contexts.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error { return r.work(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) work(ctx context.Context) error {
	timer := time.NewTimer(r.idlePoll)
	defer timer.Stop()
	for {
		job := r.queue.Next()
		if job == nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.idlePoll)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.queue.Wake():
			case <-timer.C:
			}
			continue
		}
		r.runJob(ctx, *job)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (r *Runner) runJob(ctx context.Context, job types.ProcessingJob) {
	jobCtx := ctx
	var cancel context.CancelFunc
	if job.TimeoutMs > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	report := func(percentage int, partial map[string]any) {
		if err := r.queue.MarkProgress(job.ID, percentage, partial); err != nil {
			r.logger.Warn("progress report dropped", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}

	result, err := r.exec.Execute(jobCtx, job, report)
	if err != nil {
		if jobCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("job timed out after %dms: %w", job.TimeoutMs, err)
		}
		if _, failErr := r.queue.Fail(job.ID, err); failErr != nil {
			r.logger.Error("failed to record job failure", zap.String("job_id", job.ID.String()), zap.Error(failErr))
		}
		return
	}
	if err := r.queue.Complete(job.ID, result); err != nil {
		r.logger.Error("failed to record job completion", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}
