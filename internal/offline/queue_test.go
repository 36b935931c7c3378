package offline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

type recordingApplier struct {
	order []string
	fail  map[string]int // type -> number of failures before success (-1 = always)
}

func (r *recordingApplier) Apply(_ context.Context, action types.OfflineAction) (int64, error) {
	r.order = append(r.order, action.Type)
	if n, ok := r.fail[action.Type]; ok {
		if n == -1 {
			return 0, errors.New("remote rejected " + action.Type)
		}
		if n > 0 {
			r.fail[action.Type] = n - 1
			return 0, errors.New("transient error on " + action.Type)
		}
	}
	return int64(len(action.Type)), nil
}

func TestDrain_DependencyDominatesPriority(t *testing.T) {
	applier := &recordingApplier{}
	q := New(applier, nil)

	// Priorities [3,1,2]; the priority-1 action depends on the priority-3 one.
	p3 := &types.OfflineAction{ID: uuid.New(), Type: "save_draft", Priority: 3}
	p1 := &types.OfflineAction{ID: uuid.New(), Type: "submit_step", Priority: 1, Dependencies: []uuid.UUID{p3.ID}}
	p2 := &types.OfflineAction{ID: uuid.New(), Type: "record_metric", Priority: 2}
	for _, a := range []*types.OfflineAction{p3, p1, p2} {
		q.Enqueue(a, false)
	}

	results := q.Drain(context.Background())

	require.Len(t, results, 3)
	idxSave := indexOf(applier.order, "save_draft")
	idxSubmit := indexOf(applier.order, "submit_step")
	require.NotEqual(t, -1, idxSave)
	require.NotEqual(t, -1, idxSubmit)
	assert.Less(t, idxSave, idxSubmit, "dependency must run before dependent despite priority")
	assert.Equal(t, 0, q.Len())
}

func indexOf(list []string, want string) int {
	for i, s := range list {
		if s == want {
			return i
		}
	}
	return -1
}

func TestDrain_RetriesThenPermanentFailure(t *testing.T) {
	applier := &recordingApplier{fail: map[string]int{"flaky": -1}}
	q := New(applier, nil)
	q.Enqueue(&types.OfflineAction{ID: uuid.New(), Type: "flaky", MaxRetries: 2}, false)

	results := q.Drain(context.Background())

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.True(t, results[0].Permanent)
	assert.Contains(t, results[0].Error, "remote rejected")
	// maxRetries + 1 attempts in total
	assert.Len(t, applier.order, 3)
	assert.Equal(t, 0, q.Len())
}

func TestDrain_TransientFailureEventuallySucceeds(t *testing.T) {
	applier := &recordingApplier{fail: map[string]int{"wobbly": 2}}
	q := New(applier, nil)
	q.Enqueue(&types.OfflineAction{ID: uuid.New(), Type: "wobbly", MaxRetries: 3}, false)

	results := q.Drain(context.Background())

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestDrain_FallbackRunsAfterExhaustion(t *testing.T) {
	applier := &recordingApplier{fail: map[string]int{"primary": -1}}
	q := New(applier, nil)
	q.Enqueue(&types.OfflineAction{
		ID:         uuid.New(),
		Type:       "primary",
		MaxRetries: 1,
		Fallback:   &types.OfflineAction{ID: uuid.New(), Type: "fallback"},
	}, false)

	results := q.Drain(context.Background())

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Contains(t, applier.order, "fallback")
}

func TestDrain_DependencyFailurePropagates(t *testing.T) {
	applier := &recordingApplier{fail: map[string]int{"doomed": -1}}
	q := New(applier, nil)
	doomed := &types.OfflineAction{ID: uuid.New(), Type: "doomed", Priority: 1}
	dependent := &types.OfflineAction{ID: uuid.New(), Type: "dependent", Priority: 2, Dependencies: []uuid.UUID{doomed.ID}}
	q.Enqueue(doomed, false)
	q.Enqueue(dependent, false)

	results := q.Drain(context.Background())

	require.Len(t, results, 2)
	assert.True(t, results[1].Permanent)
	assert.Contains(t, results[1].Error, "permanently failed")
	assert.NotContains(t, applier.order, "dependent")
}

func TestDrain_CancellationLeavesRemainingQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	applier := ApplierFunc(func(_ context.Context, action types.OfflineAction) (int64, error) {
		if action.Type == "second" {
			cancel() // disconnect mid-drain
			return 0, errors.New("connection lost")
		}
		return 1, nil
	})
	q := New(applier, nil)
	q.Enqueue(&types.OfflineAction{ID: uuid.New(), Type: "first", Priority: 1}, false)
	second := &types.OfflineAction{ID: uuid.New(), Type: "second", Priority: 2, MaxRetries: 5}
	q.Enqueue(second, false)
	q.Enqueue(&types.OfflineAction{ID: uuid.New(), Type: "third", Priority: 3}, false)

	results := q.Drain(ctx)

	// first succeeded, second was interrupted, third never attempted.
	require.GreaterOrEqual(t, len(results), 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 2, q.Len(), "interrupted and unattempted actions stay queued")

	// A later drain finishes the remainder.
	applierOK := ApplierFunc(func(context.Context, types.OfflineAction) (int64, error) { return 1, nil })
	q.applier = applierOK
	final := q.Drain(context.Background())
	assert.Len(t, final, 2)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_OfflineNetworkActionFlaggedPendingNetwork(t *testing.T) {
	q := New(ApplierFunc(func(context.Context, types.OfflineAction) (int64, error) { return 0, nil }), nil)
	a := &types.OfflineAction{ID: uuid.New(), Type: "upload", RequiresNetwork: true}
	q.Enqueue(a, false)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, types.OfflinePendingNetwork, q.Pending()[0].Status)

	b := &types.OfflineAction{ID: uuid.New(), Type: "local_note", CanExecuteOffline: true}
	q.Enqueue(b, false)
	assert.Equal(t, types.OfflineQueued, q.Pending()[0].Status) // priority 0 sorts first
}
