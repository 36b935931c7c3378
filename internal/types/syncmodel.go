//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType categorizes a single field mutation.
type ChangeType string

// Change types.
const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeSource identifies where a state change originated.
type ChangeSource string

// Change sources.
const (
	SourceLocal  ChangeSource = "local"
	SourceRemote ChangeSource = "remote"
	SourceSystem ChangeSource = "system"
)

// StateChange is an immutable append-only record of a single field mutation.
// It is the unit of conflict detection and the audit trail.
type StateChange struct {
	ID          uuid.UUID    `json:"id"`
	SessionID   uuid.UUID    `json:"session_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        ChangeType   `json:"type"`
	Path        string       `json:"path"`
	OldValue    any          `json:"old_value,omitempty"`
	NewValue    any          `json:"new_value,omitempty"`
	UserID      *uuid.UUID   `json:"user_id,omitempty"`
	Source      ChangeSource `json:"source"`
	SyncVersion int64        `json:"sync_version"`
}

// ResolutionStrategy selects how overlapping changes are reconciled.
type ResolutionStrategy string

// Conflict resolution strategies.
const (
	StrategyLocalWins  ResolutionStrategy = "local_wins"
	StrategyRemoteWins ResolutionStrategy = "remote_wins"
	StrategyMerge      ResolutionStrategy = "merge"
	StrategyUserChoice ResolutionStrategy = "user_choice"
)

// ConflictResolution records the outcome for one overlapping path. Once
// Resolved is set the record is terminal and immutable.
type ConflictResolution struct {
	ID         uuid.UUID          `json:"id"`
	Path       string             `json:"path"`
	Changes    []StateChange      `json:"changes"`
	Strategy   ResolutionStrategy `json:"strategy"`
	Resolved   bool               `json:"resolved"`
	Value      any                `json:"value,omitempty"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy string             `json:"resolved_by,omitempty"`
}

// SyncState is the per-session synchronization status.
type SyncState string

// Sync states.
const (
	SyncSynced     SyncState = "synced"
	SyncSyncing    SyncState = "syncing"
	SyncConflicted SyncState = "conflicted"
	SyncOffline    SyncState = "offline"
	SyncError      SyncState = "error"
)

// SyncStatus tracks a session's position relative to the remote store.
// SyncVersion is the optimistic-concurrency token; it only ever increases.
type SyncStatus struct {
	State          SyncState            `json:"state"`
	LastSyncedAt   *time.Time           `json:"last_synced_at,omitempty"`
	PendingChanges int                  `json:"pending_changes"`
	Conflicts      []ConflictResolution `json:"conflicts,omitempty"`
	SyncVersion    int64                `json:"sync_version"`
}

// UserPresence is a heartbeat record for one client editing a session.
// The sync engine only reads presence, to annotate conflicts.
type UserPresence struct {
	UserID     uuid.UUID `json:"user_id"`
	ClientID   string    `json:"client_id"`
	ActiveStep Step      `json:"active_step,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
