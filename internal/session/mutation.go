// Package session owns the canonical EnhancedSessionState for a session and
// is the sole mutation entry point. All other components receive read-only
// snapshots and propose changes through Apply.
package session

import (
	"github.com/google/uuid"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// MutationKind selects which field a proposed mutation targets.
type MutationKind string

// Supported mutation kinds. There is deliberately no kind that sets
// Session.ProgressPercentage: overall progress is derived from step progress
// and recomputed by the store after every mutation that can move it.
const (
	MutateCurrentStep       MutationKind = "set_current_step"
	MutateCompleteStep      MutationKind = "complete_step"
	MutateStatus            MutationKind = "set_status"
	MutateSubstep           MutationKind = "transition_substep"
	MutateInteraction       MutationKind = "record_interaction"
	MutateFeatureEnabled    MutationKind = "set_feature_enabled"
	MutateFeatureConfig     MutationKind = "set_feature_config"
	MutateUIState           MutationKind = "set_ui_state"
	MutateRegisterFeature   MutationKind = "register_feature"
	MutateDeclareSubsteps   MutationKind = "declare_substeps"
	MutateRecordBlocker     MutationKind = "record_blocker"
	MutateValidationResults MutationKind = "set_validation_results"
)

// Mutation is a proposed change to the aggregate. Exactly the fields
// relevant to Kind are consulted.
type Mutation struct {
	Kind MutationKind `json:"kind"`

	Step          types.Step            `json:"step,omitempty"`
	SubstepID     string                `json:"substep_id,omitempty"`
	SubstepStatus types.SubstepStatus   `json:"substep_status,omitempty"`
	Status        types.SessionStatus   `json:"status,omitempty"`
	Interaction   types.UserInteraction `json:"interaction,omitempty"`

	FeatureID string              `json:"feature_id,omitempty"`
	Enabled   bool                `json:"enabled,omitempty"`
	Feature   *types.FeatureState `json:"feature,omitempty"`
	Config    map[string]any      `json:"config,omitempty"`

	Substeps []string `json:"substeps,omitempty"`

	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`

	Blocker          string   `json:"blocker,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`

	// UserID attributes the resulting StateChange for audit and conflict
	// annotation.
	UserID *uuid.UUID `json:"user_id,omitempty"`
}
