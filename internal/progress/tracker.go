// Package progress derives step and session completion from substep events.
// It is pure: it only touches the records it is handed and never performs I/O.
package progress

import (
	"time"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// legalTransitions is the allowed-edge table for substep statuses.
// error -> in_progress permits user-driven retry of a failed substep.
var legalTransitions = map[types.SubstepStatus][]types.SubstepStatus{
	types.SubstepPending:    {types.SubstepInProgress},
	types.SubstepInProgress: {types.SubstepCompleted, types.SubstepError, types.SubstepSkipped},
	types.SubstepError:      {types.SubstepInProgress},
	types.SubstepCompleted:  {},
	types.SubstepSkipped:    {},
}

// CanTransition reports whether from -> to is a legal substep transition.
// Self-transitions are legal no-ops so repeated completion events stay
// idempotent.
func CanTransition(from, to types.SubstepStatus) bool {
	if from == to {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RecordInteraction appends a user interaction to the step's history and
// bumps its last-modified timestamp.
func RecordInteraction(sp *types.StepProgressState, interaction types.UserInteraction) {
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = time.Now().UTC()
	}
	sp.Interactions = append(sp.Interactions, interaction)
	sp.LastModified = interaction.Timestamp
}

// TransitionSubstep moves one substep to a new status, enforcing the legal
// transition table. On an illegal transition the step is left unchanged and
// an InvalidTransitionError is returned. Completion percentage is recomputed
// after every successful transition.
func TransitionSubstep(sp *types.StepProgressState, substepID string, to types.SubstepStatus, now time.Time) error {
	if !to.Valid() {
		return &types.ValidationError{Field: "status", Message: "unknown substep status: " + string(to)}
	}
	sub := sp.Substep(substepID)
	if sub == nil {
		return &types.ValidationError{Field: "substep_id", Message: "unknown substep: " + substepID}
	}
	if !CanTransition(sub.Status, to) {
		return &types.InvalidTransitionError{Entity: "substep", From: string(sub.Status), To: string(to)}
	}
	if sub.Status == to {
		return nil
	}

	switch to {
	case types.SubstepInProgress:
		if sub.StartedAt == nil {
			t := now
			sub.StartedAt = &t
		}
		sub.ValidationErrors = nil
	case types.SubstepCompleted, types.SubstepSkipped:
		t := now
		sub.CompletedAt = &t
		if sub.StartedAt != nil {
			sp.TimeSpentMs += now.Sub(*sub.StartedAt).Milliseconds()
		}
	}
	sub.Status = to
	sp.LastModified = now
	sp.CompletionPercentage = ComputeCompletion(sp)
	return nil
}

// ComputeCompletion returns the step's completion percentage: terminal
// substeps (completed or skipped) over total, rounded down. A step with no
// substeps reports 0 here; completion for such steps is driven externally.
func ComputeCompletion(sp *types.StepProgressState) int {
	if sp == nil || len(sp.Substeps) == 0 {
		return 0
	}
	done := 0
	for _, sub := range sp.Substeps {
		if sub.Status.Terminal() {
			done++
		}
	}
	return done * 100 / len(sp.Substeps)
}

// ComputeOverallProgress returns the session-wide completion percentage:
// the uniform average of per-step completion across the fixed wizard step
// count. Steps recorded in CompletedSteps count as fully complete even when
// they have no substep records.
func ComputeOverallProgress(state *types.EnhancedSessionState) int {
	total := 0
	for _, step := range types.StepOrder {
		switch {
		case state.Session.HasCompleted(step):
			total += 100
		default:
			if sp, ok := state.StepProgress[step]; ok {
				total += ComputeCompletion(sp)
			}
		}
	}
	return total / len(types.StepOrder)
}
