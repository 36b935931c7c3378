package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func TestRunner_ExecutesJobsInDependencyOrder(t *testing.T) {
	q := New(Options{})
	jobA := &types.ProcessingJob{ID: uuid.New(), Type: "analysis"}
	require.NoError(t, q.Enqueue(jobA))
	jobB := &types.ProcessingJob{ID: uuid.New(), Type: "feature_generation", Priority: 10, Dependencies: []uuid.UUID{jobA.ID}}
	require.NoError(t, q.Enqueue(jobB))

	var (
		mu    sync.Mutex
		order []string
	)
	done := make(chan struct{})
	exec := ExecutorFunc(func(_ context.Context, job types.ProcessingJob, report func(int, map[string]any)) (map[string]any, error) {
		mu.Lock()
		order = append(order, job.Type)
		finished := len(order) == 2
		mu.Unlock()
		report(100, nil)
		if finished {
			close(done)
		}
		return map[string]any{"ok": true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(q, exec, 2, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish")
	}
	cancel()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"analysis", "feature_generation"}, order)
	assert.Equal(t, types.JobCompleted, q.Job(jobB.ID).Status)
}

func TestRunner_TimeoutIsRetryEligibleFailure(t *testing.T) {
	terminal := make(chan types.ProcessingJob, 1)
	q := New(Options{
		BackoffBase: time.Millisecond,
		OnTerminal:  func(job types.ProcessingJob, _ error) { terminal <- job },
	})
	job := &types.ProcessingJob{ID: uuid.New(), Type: "slow", MaxRetries: 1, TimeoutMs: 10}
	require.NoError(t, q.Enqueue(job))

	exec := ExecutorFunc(func(ctx context.Context, _ types.ProcessingJob, _ func(int, map[string]any)) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(q, exec, 1, nil)
	go runner.Run(ctx) //nolint:errcheck // cancelled at test end

	select {
	case got := <-terminal:
		assert.Equal(t, job.ID, got.ID)
		assert.Contains(t, got.LastError, "timed out")
		assert.Equal(t, 1, got.RetryCount) // retried once before going terminal
	case <-time.After(5 * time.Second):
		t.Fatal("job never went terminal")
	}
}

func TestRunner_ExecutorErrorSurfacesAfterRetries(t *testing.T) {
	terminal := make(chan types.ProcessingJob, 1)
	q := New(Options{
		BackoffBase: time.Millisecond,
		OnTerminal:  func(job types.ProcessingJob, _ error) { terminal <- job },
	})
	job := &types.ProcessingJob{ID: uuid.New(), Type: "analysis", MaxRetries: 2}
	require.NoError(t, q.Enqueue(job))

	var attempts int32
	var mu sync.Mutex
	exec := ExecutorFunc(func(_ context.Context, _ types.ProcessingJob, _ func(int, map[string]any)) (map[string]any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("provider unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(q, exec, 1, nil)
	go runner.Run(ctx) //nolint:errcheck // cancelled at test end

	select {
	case got := <-terminal:
		assert.Equal(t, types.JobFailed, got.Status)
		mu.Lock()
		assert.Equal(t, int32(3), attempts) // max retries + 1
		mu.Unlock()
	case <-time.After(5 * time.Second):
		t.Fatal("job never went terminal")
	}
}
