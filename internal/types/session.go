// Package types provides type definitions for the session state engine shared across the system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// Step identifies one stage in the fixed wizard sequence.
type Step string

// The fixed, ordered set of wizard steps.
const (
	StepUpload       Step = "upload"
	StepAnalysis     Step = "analysis"
	StepPersonalInfo Step = "personal_info"
	StepExperience   Step = "experience"
	StepFeatures     Step = "features"
	StepTemplate     Step = "template"
	StepReview       Step = "review"
	StepExport       Step = "export"
)

// StepOrder is the canonical wizard ordering. Overall progress is computed
// against this fixed step count.
var StepOrder = []Step{
	StepUpload,
	StepAnalysis,
	StepPersonalInfo,
	StepExperience,
	StepFeatures,
	StepTemplate,
	StepReview,
	StepExport,
}

// StepPrerequisites lists which steps must be completed before a step
// becomes accessible.
var StepPrerequisites = map[Step][]Step{
	StepUpload:       {},
	StepAnalysis:     {StepUpload},
	StepPersonalInfo: {StepUpload},
	StepExperience:   {StepPersonalInfo},
	StepFeatures:     {StepAnalysis},
	StepTemplate:     {StepExperience, StepFeatures},
	StepReview:       {StepTemplate},
	StepExport:       {StepReview},
}

// Valid reports whether s is a member of the fixed step enum.
func (s Step) Valid() bool {
	_, ok := StepPrerequisites[s]
	return ok
}

// Index returns the position of s in StepOrder, or -1 for unknown steps.
func (s Step) Index() int {
	for i, step := range StepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// SessionStatus is the lifecycle status of a wizard session.
type SessionStatus string

// Session lifecycle statuses.
const (
	SessionDraft      SessionStatus = "draft"
	SessionInProgress SessionStatus = "in_progress"
	SessionProcessing SessionStatus = "processing"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionExpired    SessionStatus = "expired"
)

// Valid reports whether the status is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionDraft, SessionInProgress, SessionProcessing, SessionPaused,
		SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

// Session is the root record for one end-to-end wizard run.
//
// ProgressPercentage is strictly derived from the per-step progress map; it
// is populated by the progress tracker and must never be set directly.
type Session struct {
	ID                 uuid.UUID     `json:"id"`
	UserID             *uuid.UUID    `json:"user_id,omitempty"`
	JobID              *uuid.UUID    `json:"job_id,omitempty"`
	CurrentStep        Step          `json:"current_step"`
	CompletedSteps     []Step        `json:"completed_steps"`
	ProgressPercentage int           `json:"progress_percentage"`
	Status             SessionStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	LastActiveAt       time.Time     `json:"last_active_at"`
	SchemaVersion      string        `json:"schema_version"`
}

// HasCompleted reports whether step is in the session's completed set.
func (s *Session) HasCompleted(step Step) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}
