package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/features"
	"github.com/jonathan/cv-session-engine/internal/offline"
	"github.com/jonathan/cv-session-engine/internal/progress"
	"github.com/jonathan/cv-session-engine/internal/queue"
	"github.com/jonathan/cv-session-engine/internal/store"
	"github.com/jonathan/cv-session-engine/internal/syncengine"
	"github.com/jonathan/cv-session-engine/internal/types"
)

// Listener receives the batch of changes applied by one mutation. Listeners
// never observe partial states: notification happens after the mutation is
// fully applied.
type Listener func(changes []types.StateChange)

// Store is the single authoritative in-memory holder of one session's
// aggregate. Apply calls are serialized per store, so there is exactly one
// local writer for the sync engine to compare against the remote.
type Store struct {
	mu    sync.Mutex
	state *types.EnhancedSessionState

	persist store.Store
	engine  *syncengine.Engine
	jobs    *queue.Queue
	offline *offline.Queue

	// flushMu serializes pushes so two flushes never race on the same sync
	// version.
	flushMu sync.Mutex

	online    bool
	pending   []types.StateChange
	changeLog []types.StateChange

	// stopWatch cancels the remote-change subscription on the persistence
	// store.
	stopWatch func()

	subMu       sync.Mutex
	subscribers map[int]Listener
	nextSubID   int

	validateDoc func(*types.EnhancedSessionState) error
	clock       func() time.Time
	logger      *zap.Logger
}

// Options configures a session store.
type Options struct {
	Persistence store.Store
	SyncEngine  *syncengine.Engine
	Jobs        *queue.Queue
	// ValidateDocument, when set, checks loaded documents (typically JSON
	// Schema validation) before hydration.
	ValidateDocument func(*types.EnhancedSessionState) error
	Logger           *zap.Logger
}

// NewStore creates a store for one session. The store starts online; feed
// the connectivity signal through SetOnline.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		persist:     opts.Persistence,
		engine:      opts.SyncEngine,
		jobs:        opts.Jobs,
		online:      true,
		subscribers: make(map[int]Listener),
		validateDoc: opts.ValidateDocument,
		clock:       func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
	s.offline = offline.New(offline.ApplierFunc(s.replayOfflineAction), logger)
	return s
}

// Create initializes a fresh session aggregate and persists it.
func (s *Store) Create(ctx context.Context, session types.Session) (*types.EnhancedSessionState, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if !session.CurrentStep.Valid() {
		session.CurrentStep = types.StepOrder[0]
	}
	if session.Status == "" {
		session.Status = types.SessionDraft
	}
	now := s.clock()
	session.CreatedAt = now
	session.LastActiveAt = now
	state := types.NewEnhancedSessionState(session)

	version, err := s.persist.Put(ctx, session.ID, state, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	state.Sync.SyncVersion = version
	now2 := s.clock()
	state.Sync.LastSyncedAt = &now2

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.watchRemote(session.ID)
	return state.Clone(), nil
}

// Load fetches the session document, validates it, and hydrates the
// in-memory aggregate. A missing session surfaces NotFoundError; it is
// reported, not retried.
func (s *Store) Load(ctx context.Context, sessionID uuid.UUID) (*types.EnhancedSessionState, error) {
	started := s.clock()
	state, err := s.persist.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.validateDoc != nil {
		if err := s.validateDoc(state); err != nil {
			return nil, fmt.Errorf("session document failed validation: %w", err)
		}
	}
	state.Sync.State = types.SyncSynced
	now := s.clock()
	state.Sync.LastSyncedAt = &now
	state.Metrics.LoadTimeMs = now.Sub(started).Milliseconds()

	s.mu.Lock()
	s.state = state
	s.pending = nil
	s.mu.Unlock()
	s.watchRemote(sessionID)
	s.logger.Info("session loaded",
		zap.String("session_id", sessionID.String()),
		zap.Int64("sync_version", state.Sync.SyncVersion))
	return state.Clone(), nil
}

// watchRemote subscribes to writes made through other handles of the
// persistence store, so remote edits reach this store's subscribers without
// waiting for a local push to conflict.
func (s *Store) watchRemote(sessionID uuid.UUID) {
	if s.persist == nil {
		return
	}
	s.Close()
	cancel, err := s.persist.SubscribeRemoteChanges(context.Background(), sessionID, s.adoptRemoteState)
	if err != nil {
		s.logger.Warn("remote change subscription failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.stopWatch = cancel
	s.mu.Unlock()
}

// adoptRemoteState applies an authoritative remote write. Adoption happens
// only when no local changes are pending; with pending changes the next
// flush reconciles both sides through the sync engine instead.
func (s *Store) adoptRemoteState(remote *types.EnhancedSessionState) {
	if remote == nil {
		return
	}
	if s.validateDoc != nil {
		if err := s.validateDoc(remote); err != nil {
			s.logger.Warn("ignoring invalid remote state", zap.Error(err))
			return
		}
	}
	s.mu.Lock()
	if s.state == nil ||
		remote.Sync.SyncVersion <= s.state.Sync.SyncVersion ||
		len(s.pending) > 0 {
		s.mu.Unlock()
		return
	}
	oldVersion := s.state.Sync.SyncVersion
	adopted := remote.Clone()
	adopted.Sync.State = types.SyncSynced
	now := s.clock()
	adopted.Sync.LastSyncedAt = &now
	s.state = adopted
	change := types.StateChange{
		ID:          uuid.New(),
		SessionID:   adopted.Session.ID,
		Timestamp:   now,
		Type:        types.ChangeUpdate,
		Path:        "sync/sync_version",
		OldValue:    oldVersion,
		NewValue:    adopted.Sync.SyncVersion,
		Source:      types.SourceRemote,
		SyncVersion: adopted.Sync.SyncVersion,
	}
	s.changeLog = append(s.changeLog, change)
	s.mu.Unlock()
	s.notify([]types.StateChange{change})
}

// Close stops the remote-change subscription.
func (s *Store) Close() {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Snapshot returns a read-only deep copy of the aggregate.
func (s *Store) Snapshot() *types.EnhancedSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers a listener notified after every applied mutation.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notify(changes []types.StateChange) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	listeners := make([]Listener, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(changes)
	}
}

// Apply validates and applies one mutation. Validation failures are
// synchronous and leave the aggregate untouched; on success the resulting
// StateChange is appended to the audit log and forwarded to the sync engine
// (or buffered offline).
func (s *Store) Apply(ctx context.Context, m Mutation) (*types.StateChange, error) {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return nil, &types.ValidationError{Field: "session", Message: "no session loaded"}
	}

	change, err := s.applyLocked(m)
	if err != nil {
		s.state.Metrics.RejectedCount++
		s.mu.Unlock()
		return nil, err
	}
	s.state.Session.LastActiveAt = change.Timestamp
	s.state.Metrics.AppliedCount++
	s.changeLog = append(s.changeLog, *change)
	s.pending = append(s.pending, *change)
	s.state.Sync.PendingChanges = len(s.pending)
	online := s.online
	s.mu.Unlock()

	s.notify([]types.StateChange{*change})

	if online {
		if err := s.flush(ctx); err != nil {
			s.logger.Warn("sync push failed, change kept pending",
				zap.String("session_id", change.SessionID.String()),
				zap.Error(err))
		}
	} else {
		s.bufferOffline(*change)
	}
	return change, nil
}

// applyLocked performs the validated in-memory mutation. Callers hold s.mu.
func (s *Store) applyLocked(m Mutation) (*types.StateChange, error) {
	now := s.clock()
	change := &types.StateChange{
		ID:        uuid.New(),
		SessionID: s.state.Session.ID,
		Timestamp: now,
		Type:      types.ChangeUpdate,
		UserID:    m.UserID,
		Source:    types.SourceLocal,
	}

	switch m.Kind {
	case MutateCurrentStep:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		change.Path = "session/current_step"
		change.OldValue = string(s.state.Session.CurrentStep)
		change.NewValue = string(m.Step)
		s.state.Session.CurrentStep = m.Step
		s.state.NavigationHistory = append(s.state.NavigationHistory, m.Step)

	case MutateCompleteStep:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		if s.state.Session.HasCompleted(m.Step) {
			return nil, &types.ValidationError{Field: "step", Message: "step already completed: " + string(m.Step)}
		}
		change.Path = "session/completed_steps"
		change.OldValue = stepsToStrings(s.state.Session.CompletedSteps)
		s.state.Session.CompletedSteps = append(s.state.Session.CompletedSteps, m.Step)
		change.NewValue = stepsToStrings(s.state.Session.CompletedSteps)
		s.recomputeProgressLocked()

	case MutateStatus:
		if !m.Status.Valid() {
			return nil, &types.ValidationError{Field: "status", Message: "unknown status: " + string(m.Status)}
		}
		change.Path = "session/status"
		change.OldValue = string(s.state.Session.Status)
		change.NewValue = string(m.Status)
		s.state.Session.Status = m.Status

	case MutateDeclareSubsteps:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		sp := s.stepProgressLocked(m.Step)
		if len(sp.Substeps) > 0 {
			return nil, &types.ValidationError{Field: "substeps", Message: "substeps already declared for step: " + string(m.Step)}
		}
		for _, id := range m.Substeps {
			sp.Substeps = append(sp.Substeps, types.SubstepProgress{ID: id, Status: types.SubstepPending})
		}
		sp.LastModified = now
		change.Type = types.ChangeCreate
		change.Path = "step_progress/" + string(m.Step) + "/substeps"
		// Record the document-shaped substep list so the sync engine can
		// write it back at this path during reconciliation.
		change.NewValue = append([]types.SubstepProgress(nil), sp.Substeps...)

	case MutateSubstep:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		sp := s.stepProgressLocked(m.Step)
		sub := sp.Substep(m.SubstepID)
		var old string
		if sub != nil {
			old = string(sub.Status)
		}
		if err := progress.TransitionSubstep(sp, m.SubstepID, m.SubstepStatus, now); err != nil {
			return nil, err
		}
		change.Path = "step_progress/" + string(m.Step) + "/substeps/" + m.SubstepID + "/status"
		change.OldValue = old
		change.NewValue = string(m.SubstepStatus)
		s.recomputeProgressLocked()

	case MutateInteraction:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		sp := s.stepProgressLocked(m.Step)
		change.Type = types.ChangeCreate
		change.Path = "step_progress/" + string(m.Step) + "/interactions"
		change.OldValue = append([]types.UserInteraction(nil), sp.Interactions...)
		progress.RecordInteraction(sp, m.Interaction)
		change.NewValue = append([]types.UserInteraction(nil), sp.Interactions...)

	case MutateRecordBlocker:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		sp := s.stepProgressLocked(m.Step)
		change.Type = types.ChangeCreate
		change.Path = "step_progress/" + string(m.Step) + "/blockers"
		change.OldValue = append([]string(nil), sp.Blockers...)
		sp.Blockers = append(sp.Blockers, m.Blocker)
		sp.LastModified = now
		change.NewValue = append([]string(nil), sp.Blockers...)

	case MutateValidationResults:
		if !m.Step.Valid() {
			return nil, &types.ValidationError{Field: "step", Message: "unknown step: " + string(m.Step)}
		}
		if s.state.ValidationResults == nil {
			s.state.ValidationResults = make(map[types.Step][]string)
		}
		change.Path = "validation_results/" + string(m.Step)
		change.OldValue = s.state.ValidationResults[m.Step]
		change.NewValue = m.ValidationErrors
		s.state.ValidationResults[m.Step] = m.ValidationErrors

	case MutateRegisterFeature:
		if m.Feature == nil || m.Feature.ID == "" {
			return nil, &types.ValidationError{Field: "feature", Message: "feature definition is required"}
		}
		if _, exists := s.state.Features[m.Feature.ID]; exists {
			return nil, &types.ValidationError{Field: "feature", Message: "feature already registered: " + m.Feature.ID}
		}
		m.Feature.UpdatedAt = now
		s.state.Features[m.Feature.ID] = m.Feature
		change.Type = types.ChangeCreate
		change.Path = "features/" + m.Feature.ID
		change.NewValue = *m.Feature

	case MutateFeatureEnabled:
		registry := features.NewRegistry(s.state.Features)
		var wasEnabled bool
		if existing := registry.Get(m.FeatureID); existing != nil {
			wasEnabled = existing.Enabled
		}
		f, err := registry.SetEnabled(m.FeatureID, m.Enabled, s.evalContextLocked(), now)
		if err != nil {
			return nil, err
		}
		change.Path = "features/" + m.FeatureID + "/enabled"
		change.OldValue = wasEnabled
		change.NewValue = f.Enabled

	case MutateFeatureConfig:
		f, ok := s.state.Features[m.FeatureID]
		if !ok {
			return nil, &types.ValidationError{Field: "feature_id", Message: "unknown feature: " + m.FeatureID}
		}
		change.Path = "features/" + m.FeatureID + "/configuration"
		change.OldValue = f.Configuration
		change.NewValue = m.Config
		f.Configuration = m.Config
		f.UpdatedAt = now

	case MutateUIState:
		if m.Key == "" {
			return nil, &types.ValidationError{Field: "key", Message: "ui state key is required"}
		}
		if s.state.UIState == nil {
			s.state.UIState = make(map[string]any)
		}
		change.Path = "ui_state/" + m.Key
		change.OldValue = s.state.UIState[m.Key]
		change.NewValue = m.Value
		if m.Value == nil {
			change.Type = types.ChangeDelete
			delete(s.state.UIState, m.Key)
		} else {
			s.state.UIState[m.Key] = m.Value
		}

	default:
		return nil, &types.ValidationError{Field: "kind", Message: "unknown mutation kind: " + string(m.Kind)}
	}

	change.SyncVersion = s.state.Sync.SyncVersion
	return change, nil
}

// stepProgressLocked lazily creates the progress record for a step.
func (s *Store) stepProgressLocked(step types.Step) *types.StepProgressState {
	sp, ok := s.state.StepProgress[step]
	if !ok {
		sp = &types.StepProgressState{Step: step}
		s.state.StepProgress[step] = sp
	}
	return sp
}

// recomputeProgressLocked refreshes the derived overall percentage. Session
// status follows completion: all steps done marks the session completed.
func (s *Store) recomputeProgressLocked() {
	s.state.Session.ProgressPercentage = progress.ComputeOverallProgress(s.state)
	if len(s.state.Session.CompletedSteps) == len(types.StepOrder) {
		s.state.Session.Status = types.SessionCompleted
	}
}

// evalContextLocked builds the read-only context conditional rules evaluate
// against.
func (s *Store) evalContextLocked() features.Context {
	featureCtx := make(map[string]any, len(s.state.Features))
	for id, f := range s.state.Features {
		featureCtx[id] = map[string]any{
			"enabled":     f.Enabled,
			"hidden":      f.Hidden,
			"recommended": f.Recommended,
		}
	}
	completed := make(map[string]any, len(s.state.Session.CompletedSteps))
	for _, step := range s.state.Session.CompletedSteps {
		completed[string(step)] = true
	}
	ctx := features.Context{
		"features": featureCtx,
		"session": map[string]any{
			"current_step": string(s.state.Session.CurrentStep),
			"status":       string(s.state.Session.Status),
			"progress":     float64(s.state.Session.ProgressPercentage),
			"completed":    completed,
		},
	}
	for k, v := range s.state.UIState {
		ctx[k] = v
	}
	return ctx
}

// EvaluateRules runs every registered conditional rule and applies the
// winning outcomes. Rule evaluation failures are logged per rule and do not
// abort the pass; dependency errors from outcomes are returned.
func (s *Store) EvaluateRules() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	registry := features.NewRegistry(s.state.Features)
	evalCtx := s.evalContextLocked()
	actions, failures := registry.Evaluate(registry.AllRules(), evalCtx)
	for _, f := range failures {
		s.logger.Warn("conditional rule failed to evaluate",
			zap.String("rule_id", f.RuleID),
			zap.Error(f.Err))
	}
	return registry.ApplyResolvedActions(actions, evalCtx, s.clock())
}

func stepsToStrings(steps []types.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}
