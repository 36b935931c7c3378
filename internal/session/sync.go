package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// flush pushes every pending change through the sync engine and adopts the
// resulting authoritative state. Changes applied after the push snapshot was
// taken stay pending for the next flush.
func (s *Store) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	taken := len(s.pending)
	if taken == 0 {
		s.mu.Unlock()
		return nil
	}
	working := s.state.Clone()
	pending := append([]types.StateChange(nil), s.pending...)
	s.mu.Unlock()

	result, err := s.engine.Push(ctx, working, pending)
	if err != nil {
		s.mu.Lock()
		s.state.Sync.State = types.SyncError
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if len(s.pending) == taken {
		s.state = result.State
		s.pending = nil
	} else {
		// New changes arrived mid-push; keep the local aggregate and carry
		// only the sync outcome forward.
		s.pending = s.pending[taken:]
		s.state.Sync.SyncVersion = result.Version
		s.state.Sync.LastSyncedAt = result.State.Sync.LastSyncedAt
		s.state.Sync.Conflicts = result.State.Sync.Conflicts
		s.state.Sync.State = result.State.Sync.State
	}
	s.state.Sync.PendingChanges = len(s.pending)
	s.mu.Unlock()

	if result.Unresolved > 0 {
		s.logger.Info("push left unresolved conflicts awaiting user choice",
			zap.Int("unresolved", result.Unresolved))
	}
	return nil
}

// bufferOffline captures an already-applied change as an offline action so it
// is replayed on reconnect rather than lost.
func (s *Store) bufferOffline(change types.StateChange) {
	action := &types.OfflineAction{
		ID:              uuid.New(),
		Type:            "sync_change",
		Payload:         map[string]any{"change_id": change.ID.String(), "path": change.Path},
		Timestamp:       change.Timestamp,
		MaxRetries:      3,
		RequiresNetwork: true,
	}
	s.offline.Enqueue(action, false)
	s.mu.Lock()
	s.state.Sync.State = types.SyncOffline
	s.mu.Unlock()
}

// replayOfflineAction is the offline queue applier. A sync_change action
// flushes the pending buffer; the first replayed action carries every change
// accumulated while offline, later ones find the buffer empty.
func (s *Store) replayOfflineAction(ctx context.Context, action types.OfflineAction) (int64, error) {
	switch action.Type {
	case "sync_change":
		return 0, s.flush(ctx)
	default:
		return 0, fmt.Errorf("unknown offline action type %q", action.Type)
	}
}

// Online reports the current connectivity flag.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline feeds the connectivity signal. Going offline switches the sync
// state; coming back online drains the offline queue and pushes.
func (s *Store) SetOnline(ctx context.Context, online bool) []types.SyncResult {
	s.mu.Lock()
	was := s.online
	s.online = online
	if s.state != nil && !online {
		s.state.Sync.State = types.SyncOffline
	}
	s.mu.Unlock()

	if !online || was {
		return nil
	}

	results := s.offline.Drain(ctx)
	for _, r := range results {
		if !r.Success && r.Permanent {
			s.logger.Warn("offline action permanently failed",
				zap.String("action_id", r.ActionID.String()),
				zap.String("error", r.Error))
		}
	}
	// Changes applied while online was false but never buffered (for example
	// a flush failure) still sit in pending; push them now.
	if err := s.flush(ctx); err != nil {
		s.logger.Warn("post-reconnect push failed", zap.Error(err))
	}
	return results
}

// OfflineBacklog returns the not-yet-replayed offline actions.
func (s *Store) OfflineBacklog() []types.OfflineAction {
	return s.offline.Pending()
}

// ResolveConflict records the user's choice for one conflicted path and
// re-pushes the resolved document.
func (s *Store) ResolveConflict(ctx context.Context, conflictID uuid.UUID, value any, resolvedBy string) error {
	s.mu.Lock()
	working := s.state.Clone()
	s.mu.Unlock()

	result, err := s.engine.Resolve(ctx, working, conflictID, value, resolvedBy)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = result.State
	s.mu.Unlock()
	s.notify([]types.StateChange{{
		ID:        uuid.New(),
		SessionID: result.State.Session.ID,
		Timestamp: s.clock(),
		Type:      types.ChangeUpdate,
		Path:      "sync/conflicts/" + conflictID.String(),
		NewValue:  "resolved",
		Source:    types.SourceLocal,
	}})
	return nil
}

// EnqueueJob hands a background job to the processing queue and records the
// hand-off in the audit log as a system change.
func (s *Store) EnqueueJob(job *types.ProcessingJob) error {
	if s.jobs == nil {
		return &types.ValidationError{Field: "queue", Message: "no processing queue configured"}
	}
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return &types.ValidationError{Field: "session", Message: "no session loaded"}
	}
	if job.SessionID == uuid.Nil {
		job.SessionID = s.state.Session.ID
	}
	s.mu.Unlock()
	if err := s.jobs.Enqueue(job); err != nil {
		return err
	}
	s.mu.Lock()
	change := types.StateChange{
		ID:          uuid.New(),
		SessionID:   s.state.Session.ID,
		Timestamp:   s.clock(),
		Type:        types.ChangeCreate,
		Path:        "processing/" + job.ID.String(),
		NewValue:    job.Type,
		Source:      types.SourceSystem,
		SyncVersion: s.state.Sync.SyncVersion,
	}
	s.changeLog = append(s.changeLog, change)
	s.mu.Unlock()
	s.notify([]types.StateChange{change})
	return nil
}

// HandleJobTerminal is wired as the processing queue's terminal callback. A
// failed job is surfaced as a blocker on the current step and an audit entry;
// it never blocks mutations on unrelated steps.
func (s *Store) HandleJobTerminal(job types.ProcessingJob, jobErr error) {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return
	}
	now := s.clock()
	// The status audit entry stays local; "processing" is not a document
	// path, so it must never enter the pending sync set.
	audit := types.StateChange{
		ID:          uuid.New(),
		SessionID:   s.state.Session.ID,
		Timestamp:   now,
		Type:        types.ChangeUpdate,
		Path:        "processing/" + job.ID.String() + "/status",
		OldValue:    string(types.JobProcessing),
		NewValue:    string(job.Status),
		Source:      types.SourceSystem,
		SyncVersion: s.state.Sync.SyncVersion,
	}
	s.changeLog = append(s.changeLog, audit)
	changes := []types.StateChange{audit}

	if jobErr != nil {
		sp := s.stepProgressLocked(s.state.Session.CurrentStep)
		blocker := types.StateChange{
			ID:          uuid.New(),
			SessionID:   s.state.Session.ID,
			Timestamp:   now,
			Type:        types.ChangeCreate,
			Path:        "step_progress/" + string(s.state.Session.CurrentStep) + "/blockers",
			OldValue:    append([]string(nil), sp.Blockers...),
			Source:      types.SourceSystem,
			SyncVersion: s.state.Sync.SyncVersion,
		}
		sp.Blockers = append(sp.Blockers, fmt.Sprintf("%s job failed: %v", job.Type, jobErr))
		sp.LastModified = now
		blocker.NewValue = append([]string(nil), sp.Blockers...)
		s.changeLog = append(s.changeLog, blocker)
		s.pending = append(s.pending, blocker)
		s.state.Sync.PendingChanges = len(s.pending)
		changes = append(changes, blocker)
	}
	online := s.online
	s.mu.Unlock()
	s.notify(changes)
	if online {
		if err := s.flush(context.Background()); err != nil {
			s.logger.Warn("failed to sync job outcome", zap.Error(err))
		}
	}
}

// ChangeLog returns a copy of the audit log of applied changes.
func (s *Store) ChangeLog() []types.StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StateChange(nil), s.changeLog...)
}
