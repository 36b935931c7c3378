//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// PerformanceMetrics captures coarse engine-side timing for a session.
type PerformanceMetrics struct {
	LoadTimeMs    int64 `json:"load_time_ms,omitempty"`
	SaveTimeMs    int64 `json:"save_time_ms,omitempty"`
	AppliedCount  int64 `json:"applied_count"`
	RejectedCount int64 `json:"rejected_count"`
}

// EnhancedSessionState is the aggregate root for one session: the Session
// record plus everything the engine derives, queues, and syncs for it.
//
// The session store exclusively owns and mutates this aggregate; every other
// component receives read-only copies and proposes changes through the
// store's mutation API.
type EnhancedSessionState struct {
	Session           Session                     `json:"session"`
	StepProgress      map[Step]*StepProgressState `json:"step_progress"`
	Features          map[string]*FeatureState    `json:"features"`
	Checkpoints       []*ProcessingCheckpoint     `json:"checkpoints,omitempty"`
	UIState           map[string]any              `json:"ui_state,omitempty"`
	ValidationResults map[Step][]string           `json:"validation_results,omitempty"`
	NavigationHistory []Step                      `json:"navigation_history,omitempty"`
	Metrics           PerformanceMetrics          `json:"metrics"`
	Environment       map[string]string           `json:"environment,omitempty"`
	Sync              SyncStatus                  `json:"sync"`
}

// NewEnhancedSessionState returns a fresh aggregate for the given session.
func NewEnhancedSessionState(session Session) *EnhancedSessionState {
	return &EnhancedSessionState{
		Session:      session,
		StepProgress: make(map[Step]*StepProgressState),
		Features:     make(map[string]*FeatureState),
		Sync:         SyncStatus{State: SyncSynced},
	}
}

// Clone returns a deep copy of the aggregate. Snapshots handed to readers
// are always clones; internal mutable references never escape the store.
func (s *EnhancedSessionState) Clone() *EnhancedSessionState {
	if s == nil {
		return nil
	}
	out := &EnhancedSessionState{
		Session:           s.Session,
		StepProgress:      make(map[Step]*StepProgressState, len(s.StepProgress)),
		Features:          make(map[string]*FeatureState, len(s.Features)),
		ValidationResults: cloneStepErrors(s.ValidationResults),
		Metrics:           s.Metrics,
		Sync:              s.Sync,
	}
	out.Session.CompletedSteps = append([]Step(nil), s.Session.CompletedSteps...)
	out.NavigationHistory = append([]Step(nil), s.NavigationHistory...)
	out.UIState = cloneAnyMap(s.UIState)
	out.Environment = cloneStringMap(s.Environment)
	out.Sync.Conflicts = cloneConflicts(s.Sync.Conflicts)
	for step, sp := range s.StepProgress {
		out.StepProgress[step] = cloneStepProgress(sp)
	}
	for id, f := range s.Features {
		out.Features[id] = cloneFeature(f)
	}
	for _, cp := range s.Checkpoints {
		out.Checkpoints = append(out.Checkpoints, cloneCheckpoint(cp))
	}
	return out
}

func cloneStepProgress(sp *StepProgressState) *StepProgressState {
	if sp == nil {
		return nil
	}
	out := *sp
	out.Substeps = make([]SubstepProgress, len(sp.Substeps))
	for i, sub := range sp.Substeps {
		out.Substeps[i] = sub
		out.Substeps[i].ValidationErrors = append([]string(nil), sub.ValidationErrors...)
		out.Substeps[i].StartedAt = cloneTime(sub.StartedAt)
		out.Substeps[i].CompletedAt = cloneTime(sub.CompletedAt)
	}
	out.Interactions = make([]UserInteraction, len(sp.Interactions))
	for i, in := range sp.Interactions {
		out.Interactions[i] = in
		out.Interactions[i].Detail = cloneAnyMap(in.Detail)
	}
	out.Blockers = append([]string(nil), sp.Blockers...)
	return &out
}

func cloneFeature(f *FeatureState) *FeatureState {
	if f == nil {
		return nil
	}
	out := *f
	out.Configuration = cloneAnyMap(f.Configuration)
	out.Dependencies = append([]string(nil), f.Dependencies...)
	out.Rules = append([]ConditionalRule(nil), f.Rules...)
	return &out
}

func cloneCheckpoint(cp *ProcessingCheckpoint) *ProcessingCheckpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	out.Resume.Parameters = cloneAnyMap(cp.Resume.Parameters)
	out.Resume.PartialResults = cloneAnyMap(cp.Resume.PartialResults)
	out.Dependencies = append([]uuid.UUID(nil), cp.Dependencies...)
	out.Recovery.NextRetryAt = cloneTime(cp.Recovery.NextRetryAt)
	out.Performance.EndedAt = cloneTime(cp.Performance.EndedAt)
	return &out
}

func cloneConflicts(in []ConflictResolution) []ConflictResolution {
	if in == nil {
		return nil
	}
	out := make([]ConflictResolution, len(in))
	for i, c := range in {
		out[i] = c
		out[i].Changes = append([]StateChange(nil), c.Changes...)
		out[i].ResolvedAt = cloneTime(c.ResolvedAt)
	}
	return out
}

// cloneAnyMap deep-copies a JSON-like map. Values are either scalars, maps,
// or slices; anything else is copied by reference (payloads are opaque).
func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStepErrors(in map[Step][]string) map[Step][]string {
	if in == nil {
		return nil
	}
	out := make(map[Step][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
