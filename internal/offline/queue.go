// Package offline buffers actions issued while disconnected and replays them
// on reconnect in priority-then-dependency order.
package offline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// Applier performs the remote effect of one buffered action. Returns the
// number of bytes transferred on success.
type Applier interface {
	Apply(ctx context.Context, action types.OfflineAction) (int64, error)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, action types.OfflineAction) (int64, error)

// Apply implements Applier.
func (f ApplierFunc) Apply(ctx context.Context, action types.OfflineAction) (int64, error) {
	return f(ctx, action)
}

// Queue buffers offline actions. Enqueue never rejects; replay happens on
// Drain, typically triggered by the connectivity signal flipping online.
type Queue struct {
	mu      sync.Mutex
	pending []*types.OfflineAction
	applied map[uuid.UUID]bool
	failed  map[uuid.UUID]bool

	applier Applier
	clock   func() time.Time
	logger  *zap.Logger
}

// New creates an empty offline queue draining through the given applier.
func New(applier Applier, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		applied: make(map[uuid.UUID]bool),
		failed:  make(map[uuid.UUID]bool),
		applier: applier,
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Enqueue buffers an action. Actions that require the network are still
// accepted while offline, flagged pending-network rather than rejected.
func (q *Queue) Enqueue(action *types.OfflineAction, online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = q.clock()
	}
	if action.RequiresNetwork && !online {
		action.Status = types.OfflinePendingNetwork
	} else {
		action.Status = types.OfflineQueued
	}
	q.pending = append(q.pending, action)
}

// Len returns the number of actions still queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns copies of the queued actions in replay order.
func (q *Queue) Pending() []types.OfflineAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	ordered := q.ordered()
	out := make([]types.OfflineAction, len(ordered))
	for i, a := range ordered {
		out[i] = *a
	}
	return out
}

// ordered returns pending actions sorted by ascending priority, then
// enqueue time. Callers hold q.mu.
func (q *Queue) ordered() []*types.OfflineAction {
	ordered := append([]*types.OfflineAction(nil), q.pending...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}

// Drain replays queued actions. Replay order is ascending priority, but an
// action never runs before its dependencies have succeeded, so dependency
// constraints dominate priority. Actions that exhaust their retry budget are
// reported as permanent failures (after attempting their fallback, if any),
// never silently dropped.
//
// Cancelling ctx interrupts the drain: actions not yet confirmed stay
// queued, so nothing is double-applied or lost on a reconnect/disconnect
// flap.
func (q *Queue) Drain(ctx context.Context) []types.SyncResult {
	var results []types.SyncResult
	for {
		if ctx.Err() != nil {
			return results
		}
		action := q.nextEligible()
		if action == nil {
			return results
		}
		results = append(results, q.replay(ctx, action))
	}
}

// nextEligible picks the first action in replay order whose dependencies all
// succeeded. Actions whose dependencies permanently failed are failed
// immediately without an attempt; nil means nothing is currently runnable.
func (q *Queue) nextEligible() *types.OfflineAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, action := range q.ordered() {
		ready := true
		for _, dep := range action.Dependencies {
			if q.failed[dep] {
				action.Status = types.OfflineFailed
				action.LastError = fmt.Sprintf("dependency %s permanently failed", dep)
				q.failed[action.ID] = true
				q.remove(action.ID)
				return action
			}
			if !q.applied[dep] {
				ready = false
				break
			}
		}
		if ready {
			return action
		}
	}
	return nil
}

// replay attempts one action until success, retry exhaustion, or ctx
// cancellation. Failed-by-dependency actions arrive already marked failed.
func (q *Queue) replay(ctx context.Context, action *types.OfflineAction) types.SyncResult {
	if action.Status == types.OfflineFailed {
		return types.SyncResult{
			ActionID:    action.ID,
			Permanent:   true,
			Error:       action.LastError,
			CompletedAt: q.clock(),
		}
	}

	for {
		if ctx.Err() != nil {
			// Interrupted mid-flight: the action stays queued.
			return types.SyncResult{ActionID: action.ID, Error: ctx.Err().Error(), CompletedAt: q.clock()}
		}
		bytes, err := q.applier.Apply(ctx, *action)
		if err == nil {
			q.confirm(action.ID, true)
			return types.SyncResult{
				ActionID:         action.ID,
				Success:          true,
				BytesTransferred: bytes,
				CompletedAt:      q.clock(),
			}
		}
		action.RetryCount++
		action.LastError = err.Error()
		if action.RetryCount <= action.MaxRetries {
			q.logger.Warn("offline action retry",
				zap.String("action_id", action.ID.String()),
				zap.String("type", action.Type),
				zap.Int("retry", action.RetryCount),
				zap.Error(err))
			continue
		}
		if action.Fallback != nil {
			if fbBytes, fbErr := q.applier.Apply(ctx, *action.Fallback); fbErr == nil {
				q.logger.Info("offline action fallback applied",
					zap.String("action_id", action.ID.String()),
					zap.String("fallback_type", action.Fallback.Type))
				q.confirm(action.ID, true)
				return types.SyncResult{
					ActionID:         action.ID,
					Success:          true,
					BytesTransferred: fbBytes,
					CompletedAt:      q.clock(),
				}
			}
		}
		q.confirm(action.ID, false)
		q.logger.Error("offline action permanently failed",
			zap.String("action_id", action.ID.String()),
			zap.String("type", action.Type),
			zap.Error(err))
		return types.SyncResult{
			ActionID:    action.ID,
			Permanent:   true,
			Error:       action.LastError,
			CompletedAt: q.clock(),
		}
	}
}

// confirm records the terminal outcome of an action and removes it from the
// pending set. An action is either confirmed complete, confirmed failed, or
// still queued; there is no "maybe applied" state.
func (q *Queue) confirm(id uuid.UUID, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if success {
		q.applied[id] = true
	} else {
		q.failed[id] = true
	}
	q.remove(id)
}

// remove deletes an action from the pending slice. Callers hold q.mu.
func (q *Queue) remove(id uuid.UUID) {
	for i, a := range q.pending {
		if a.ID == id {
			if success := q.applied[id]; success {
				a.Status = types.OfflineApplied
			} else if q.failed[id] {
				a.Status = types.OfflineFailed
			}
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}
