//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle status of a processing job.
type JobStatus string

// Job statuses. A failed job returns to queued while retries remain;
// otherwise failed is terminal.
const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a resting state for dependency
// resolution purposes.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ProcessingJob is one schedulable unit of backend work.
type ProcessingJob struct {
	ID           uuid.UUID      `json:"id"`
	SessionID    uuid.UUID      `json:"session_id,omitempty"`
	Type         string         `json:"type"`
	Priority     int            `json:"priority"`
	Dependencies []uuid.UUID    `json:"dependencies,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Payload      map[string]any `json:"payload,omitempty"`
	Progress     int            `json:"progress"`
	Status       JobStatus      `json:"status"`
	QueuedAt     time.Time      `json:"queued_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	FailedAt     *time.Time     `json:"failed_at,omitempty"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	TimeoutMs    int64          `json:"timeout_ms,omitempty"`
}

// QueueStats holds derived aggregate counts for a processing queue.
// These are computed from job state, never set independently.
type QueueStats struct {
	Total       int     `json:"total"`
	Queued      int     `json:"queued"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// ErrorRecovery tracks retry bookkeeping for a checkpointed operation.
type ErrorRecovery struct {
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// PerformanceRecord captures wall-clock timing for a checkpointed operation.
type PerformanceRecord struct {
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

// ResumeData identifies where a long-running operation can pick back up.
type ResumeData struct {
	Function       string         `json:"function"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	PartialResults map[string]any `json:"partial_results,omitempty"`
	Progress       int            `json:"progress"`
}

// ProcessingCheckpoint is a resumability record for a long-running backend
// operation tied to a step or feature. Consulted on session resume to decide
// whether to re-issue, resume, or skip the operation.
type ProcessingCheckpoint struct {
	ID           uuid.UUID         `json:"id"`
	Step         Step              `json:"step,omitempty"`
	FeatureID    string            `json:"feature_id,omitempty"`
	Resume       ResumeData        `json:"resume"`
	Dependencies []uuid.UUID       `json:"dependencies,omitempty"`
	CanSkip      bool              `json:"can_skip"`
	Priority     int               `json:"priority"`
	Recovery     ErrorRecovery     `json:"recovery"`
	Performance  PerformanceRecord `json:"performance"`
}
