// Package store persists session documents. The engine treats it as a
// document store keyed by session id with an optimistic-concurrency version;
// it assumes nothing about the backing schema.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// VersionConflictError is returned by Put when the remote document advanced
// past the expected sync version. Remote carries the authoritative state so
// the sync engine can reconcile without a second round trip.
type VersionConflictError struct {
	SessionID       uuid.UUID
	RemoteVersion   int64
	ExpectedVersion int64
	Remote          *types.EnhancedSessionState
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("sync version conflict on session %s: expected %d, remote is at %d",
		e.SessionID, e.ExpectedVersion, e.RemoteVersion)
}

// RemoteChangeFunc is invoked with the new authoritative state when another
// writer updates a subscribed session.
type RemoteChangeFunc func(state *types.EnhancedSessionState)

// Store is the persistence collaborator consumed by the session store and
// the sync engine.
type Store interface {
	// Get fetches the document for a session id. Missing sessions return a
	// *types.NotFoundError.
	Get(ctx context.Context, sessionID uuid.UUID) (*types.EnhancedSessionState, error)

	// Put writes the document iff the stored sync version equals
	// expectedVersion, and returns the new version. A stale expectation
	// returns a *VersionConflictError carrying the remote state. A first
	// write uses expectedVersion 0.
	Put(ctx context.Context, sessionID uuid.UUID, state *types.EnhancedSessionState, expectedVersion int64) (int64, error)

	// SubscribeRemoteChanges registers a callback for writes to the session
	// made through other handles of the store. The returned cancel func
	// stops delivery.
	SubscribeRemoteChanges(ctx context.Context, sessionID uuid.UUID, fn RemoteChangeFunc) (cancel func(), err error)
}
