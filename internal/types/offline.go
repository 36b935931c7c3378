//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// OfflineActionStatus is the lifecycle status of a queued offline action.
type OfflineActionStatus string

// Offline action statuses.
const (
	OfflineQueued         OfflineActionStatus = "queued"
	OfflinePendingNetwork OfflineActionStatus = "pending_network"
	OfflineApplied        OfflineActionStatus = "applied"
	OfflineFailed         OfflineActionStatus = "failed"
)

// OfflineAction is a queued, not-yet-applied intent captured while
// connectivity is unavailable. Replayed in priority-then-dependency order on
// reconnect; failures after the retry budget are surfaced, never dropped.
type OfflineAction struct {
	ID                uuid.UUID           `json:"id"`
	Type              string              `json:"type"`
	Payload           map[string]any      `json:"payload,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
	RetryCount        int                 `json:"retry_count"`
	MaxRetries        int                 `json:"max_retries"`
	Priority          int                 `json:"priority"`
	Dependencies      []uuid.UUID         `json:"dependencies,omitempty"`
	RequiresNetwork   bool                `json:"requires_network"`
	CanExecuteOffline bool                `json:"can_execute_offline"`
	Fallback          *OfflineAction      `json:"fallback,omitempty"`
	Status            OfflineActionStatus `json:"status"`
	LastError         string              `json:"last_error,omitempty"`
}

// SyncResult reports the outcome of replaying one offline action.
type SyncResult struct {
	ActionID         uuid.UUID `json:"action_id"`
	Success          bool      `json:"success"`
	Permanent        bool      `json:"permanent,omitempty"`
	Error            string    `json:"error,omitempty"`
	BytesTransferred int64     `json:"bytes_transferred,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}
