package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/presence"
	"github.com/jonathan/cv-session-engine/internal/store"
	"github.com/jonathan/cv-session-engine/internal/types"
)

// maxPushAttempts bounds the reconcile loop when remote writers keep
// advancing the document between our pull and push.
const maxPushAttempts = 3

// PushResult carries the reconciled state after a push.
type PushResult struct {
	// State is the authoritative post-push aggregate. On unresolved
	// conflicts it reflects remote-applied non-conflicting changes, with
	// Sync.State left conflicted.
	State       *types.EnhancedSessionState
	Version     int64
	Resolutions []types.ConflictResolution
	Unresolved  int
}

// Engine reconciles local changes against the remote store.
type Engine struct {
	store    store.Store
	presence presence.Tracker
	strategy types.ResolutionStrategy
	clock    func() time.Time
	logger   *zap.Logger
}

// New creates an Engine with the given default resolution strategy.
func New(st store.Store, tracker presence.Tracker, strategy types.ResolutionStrategy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    st,
		presence: tracker,
		strategy: strategy,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Push attempts to write the local aggregate, based on the sync version the
// pending changes were built against. When another writer advanced the
// remote copy, overlapping paths are resolved per the engine strategy and
// non-overlapping changes from both sides are applied without conflict.
func (e *Engine) Push(ctx context.Context, state *types.EnhancedSessionState, pending []types.StateChange) (*PushResult, error) {
	working := state.Clone()
	changes := append([]types.StateChange(nil), pending...)
	var lastResolutions []types.ConflictResolution

	for attempt := 0; attempt < maxPushAttempts; attempt++ {
		working.Sync.State = types.SyncSyncing
		newVersion, err := e.store.Put(ctx, working.Session.ID, working, working.Sync.SyncVersion)
		if err == nil {
			now := e.clock()
			working.Sync.SyncVersion = newVersion
			working.Sync.State = types.SyncSynced
			working.Sync.LastSyncedAt = &now
			working.Sync.PendingChanges = 0
			unresolved := countUnresolved(working.Sync.Conflicts)
			if unresolved > 0 {
				working.Sync.State = types.SyncConflicted
			}
			return &PushResult{
				State:       working,
				Version:     newVersion,
				Resolutions: lastResolutions,
				Unresolved:  unresolved,
			}, nil
		}

		var conflict *store.VersionConflictError
		if !errors.As(err, &conflict) {
			working.Sync.State = types.SyncError
			return nil, fmt.Errorf("failed to push session %s: %w", working.Session.ID, err)
		}

		e.logger.Info("sync version conflict, reconciling",
			zap.String("session_id", working.Session.ID.String()),
			zap.Int64("local_version", working.Sync.SyncVersion),
			zap.Int64("remote_version", conflict.RemoteVersion))

		merged, resolutions, err := e.reconcile(ctx, conflict.Remote, changes)
		if err != nil {
			return nil, err
		}
		lastResolutions = resolutions
		working = merged
		// The original pending set is re-reconciled against every newer
		// remote copy. An attempt's merge is never pushed bare: a second
		// conflict would otherwise discard the local changes folded into it.
	}
	return nil, &types.ConflictError{SessionID: state.Session.ID, Paths: []string{"*"}}
}

// reconcile folds pending local changes into the remote authoritative state.
func (e *Engine) reconcile(ctx context.Context, remote *types.EnhancedSessionState, pending []types.StateChange) (*types.EnhancedSessionState, []types.ConflictResolution, error) {
	doc, err := stateToDoc(remote)
	if err != nil {
		return nil, nil, err
	}

	editor := e.lastRemoteEditor(ctx, remote.Session.ID)
	now := e.clock()
	var resolutions []types.ConflictResolution

	for _, change := range pending {
		remoteVal, _ := valueAt(doc, change.Path)
		if jsonEqual(remoteVal, change.OldValue) {
			// Remote did not touch this path; the local change applies
			// without conflict.
			setValueAt(doc, change.Path, change.NewValue)
			continue
		}
		if jsonEqual(remoteVal, change.NewValue) {
			// Both sides converged on the same value.
			continue
		}
		resolution := e.resolvePath(change, remoteVal, editor, now)
		if resolution.Resolved {
			setValueAt(doc, change.Path, resolution.Value)
		}
		resolutions = append(resolutions, resolution)
	}

	merged, err := docToState(doc)
	if err != nil {
		return nil, nil, err
	}
	merged.Sync.SyncVersion = remote.Sync.SyncVersion
	merged.Sync.Conflicts = append(merged.Sync.Conflicts, unresolvedOf(resolutions)...)
	return merged, resolutions, nil
}

// resolvePath produces a ConflictResolution for one overlapping path.
func (e *Engine) resolvePath(local types.StateChange, remoteVal any, editor *uuid.UUID, now time.Time) types.ConflictResolution {
	remoteChange := types.StateChange{
		ID:        uuid.New(),
		SessionID: local.SessionID,
		Timestamp: now,
		Type:      types.ChangeUpdate,
		Path:      local.Path,
		NewValue:  remoteVal,
		UserID:    editor,
		Source:    types.SourceRemote,
	}
	resolution := types.ConflictResolution{
		ID:       uuid.New(),
		Path:     local.Path,
		Changes:  []types.StateChange{local, remoteChange},
		Strategy: e.strategy,
	}

	switch e.strategy {
	case types.StrategyLocalWins:
		resolution.Value = local.NewValue
		markResolved(&resolution, "system", now)
	case types.StrategyRemoteWins:
		resolution.Value = remoteVal
		markResolved(&resolution, "system", now)
	case types.StrategyMerge:
		if merged, ok := mergeValues(local.NewValue, remoteVal); ok {
			resolution.Value = merged
			markResolved(&resolution, "system", now)
		} else {
			// Scalar conflicts on the same leaf are not mergeable.
			resolution.Strategy = types.StrategyUserChoice
		}
	default: // user_choice
		resolution.Strategy = types.StrategyUserChoice
	}
	return resolution
}

// mergeValues attempts a field-wise union of container values. Maps union
// key-by-key, recursing on shared keys; lists union by membership. Scalars
// are not mergeable.
func mergeValues(local, remote any) (any, bool) {
	localNorm, remoteNorm := normalize(local), normalize(remote)

	if lm, ok := localNorm.(map[string]any); ok {
		rm, ok := remoteNorm.(map[string]any)
		if !ok {
			return nil, false
		}
		out := make(map[string]any, len(rm)+len(lm))
		for k, v := range rm {
			out[k] = v
		}
		for k, lv := range lm {
			rv, exists := out[k]
			if !exists || jsonEqual(lv, rv) {
				out[k] = lv
				continue
			}
			merged, ok := mergeValues(lv, rv)
			if !ok {
				return nil, false
			}
			out[k] = merged
		}
		return out, true
	}

	if ll, ok := localNorm.([]any); ok {
		rl, ok := remoteNorm.([]any)
		if !ok {
			return nil, false
		}
		out := append([]any(nil), rl...)
		for _, lv := range ll {
			found := false
			for _, rv := range out {
				if jsonEqual(lv, rv) {
					found = true
					break
				}
			}
			if !found {
				out = append(out, lv)
			}
		}
		return out, true
	}

	return nil, false
}

// Resolve supplies the externally chosen value for a deferred user_choice
// conflict and pushes the result. After the last conflict resolves the
// session returns to synced.
func (e *Engine) Resolve(ctx context.Context, state *types.EnhancedSessionState, conflictID uuid.UUID, value any, resolvedBy string) (*PushResult, error) {
	working := state.Clone()
	now := e.clock()
	var resolved *types.StateChange
	for i := range working.Sync.Conflicts {
		c := &working.Sync.Conflicts[i]
		if c.ID != conflictID {
			continue
		}
		if c.Resolved {
			return nil, &types.ValidationError{Field: "conflict_id", Message: "conflict already resolved: " + conflictID.String()}
		}
		c.Value = value
		markResolved(c, resolvedBy, now)
		doc, err := stateToDoc(working)
		if err != nil {
			return nil, err
		}
		setValueAt(doc, c.Path, value)
		working, err = docToState(doc)
		if err != nil {
			return nil, err
		}
		// The chosen value rides along as a pending change so a version
		// conflict during this push re-reconciles it instead of dropping it.
		resolved = &types.StateChange{
			ID:        uuid.New(),
			SessionID: working.Session.ID,
			Timestamp: now,
			Type:      types.ChangeUpdate,
			Path:      c.Path,
			OldValue:  remoteValueOf(*c),
			NewValue:  value,
			Source:    types.SourceLocal,
		}
		break
	}
	if resolved == nil {
		return nil, &types.ValidationError{Field: "conflict_id", Message: "unknown conflict: " + conflictID.String()}
	}
	working.Sync.Conflicts = pruneResolved(working.Sync.Conflicts)
	return e.Push(ctx, working, []types.StateChange{*resolved})
}

// remoteValueOf returns the remote side's value recorded in a conflict.
func remoteValueOf(c types.ConflictResolution) any {
	for _, ch := range c.Changes {
		if ch.Source == types.SourceRemote {
			return ch.NewValue
		}
	}
	return nil
}

// lastRemoteEditor reads presence to attribute remote changes to the most
// recently seen other client, when presence is available.
func (e *Engine) lastRemoteEditor(ctx context.Context, sessionID uuid.UUID) *uuid.UUID {
	if e.presence == nil {
		return nil
	}
	active, err := e.presence.Active(ctx, sessionID)
	if err != nil || len(active) == 0 {
		return nil
	}
	latest := active[0]
	for _, p := range active[1:] {
		if p.LastSeenAt.After(latest.LastSeenAt) {
			latest = p
		}
	}
	id := latest.UserID
	return &id
}

func markResolved(c *types.ConflictResolution, by string, now time.Time) {
	c.Resolved = true
	c.ResolvedAt = &now
	c.ResolvedBy = by
}

func countUnresolved(conflicts []types.ConflictResolution) int {
	n := 0
	for _, c := range conflicts {
		if !c.Resolved {
			n++
		}
	}
	return n
}

func unresolvedOf(resolutions []types.ConflictResolution) []types.ConflictResolution {
	var out []types.ConflictResolution
	for _, r := range resolutions {
		if !r.Resolved {
			out = append(out, r)
		}
	}
	return out
}

func pruneResolved(conflicts []types.ConflictResolution) []types.ConflictResolution {
	var out []types.ConflictResolution
	for _, c := range conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}
