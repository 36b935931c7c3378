//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// SubstepStatus is the lifecycle status of a single substep within a step.
type SubstepStatus string

// Substep statuses.
const (
	SubstepPending    SubstepStatus = "pending"
	SubstepInProgress SubstepStatus = "in_progress"
	SubstepCompleted  SubstepStatus = "completed"
	SubstepSkipped    SubstepStatus = "skipped"
	SubstepError      SubstepStatus = "error"
)

// Valid reports whether the status is a known substep status.
func (s SubstepStatus) Valid() bool {
	switch s {
	case SubstepPending, SubstepInProgress, SubstepCompleted, SubstepSkipped, SubstepError:
		return true
	}
	return false
}

// Terminal reports whether the substep has reached a resting state for
// completion math (completed or skipped count toward completion).
func (s SubstepStatus) Terminal() bool {
	return s == SubstepCompleted || s == SubstepSkipped
}

// SubstepProgress tracks one substep within a wizard step.
type SubstepProgress struct {
	ID               string        `json:"id"`
	Status           SubstepStatus `json:"status"`
	ValidationErrors []string      `json:"validation_errors,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// InteractionKind categorizes a user interaction recorded against a step.
type InteractionKind string

// Interaction kinds recorded by the UI layer.
const (
	InteractionView   InteractionKind = "view"
	InteractionEdit   InteractionKind = "edit"
	InteractionSubmit InteractionKind = "submit"
	InteractionSkip   InteractionKind = "skip"
	InteractionRetry  InteractionKind = "retry"
)

// UserInteraction is one recorded UI event against a step.
type UserInteraction struct {
	Kind      InteractionKind `json:"kind"`
	Target    string          `json:"target,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Detail    map[string]any  `json:"detail,omitempty"`
}

// StepProgressState tracks progress for one wizard step within a session.
// Created lazily on first visit; never deleted while the session is alive.
type StepProgressState struct {
	Step                 Step              `json:"step"`
	Substeps             []SubstepProgress `json:"substeps"`
	CompletionPercentage int               `json:"completion_percentage"`
	TimeSpentMs          int64             `json:"time_spent_ms"`
	Interactions         []UserInteraction `json:"interactions,omitempty"`
	Blockers             []string          `json:"blockers,omitempty"`
	LastModified         time.Time         `json:"last_modified"`
}

// Substep returns the substep with the given id, or nil.
func (sp *StepProgressState) Substep(id string) *SubstepProgress {
	for i := range sp.Substeps {
		if sp.Substeps[i].ID == id {
			return &sp.Substeps[i]
		}
	}
	return nil
}
