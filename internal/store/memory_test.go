package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func newState(id uuid.UUID) *types.EnhancedSessionState {
	return types.NewEnhancedSessionState(types.Session{
		ID:          id,
		CurrentStep: types.StepUpload,
		Status:      types.SessionDraft,
	})
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), uuid.New())
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestMemoryStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()
	ctx := context.Background()

	version, err := s.Put(ctx, id, newState(id), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.Session.ID)
	assert.Equal(t, int64(1), got.Sync.SyncVersion)
}

func TestMemoryStore_VersionConflictCarriesRemote(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()
	ctx := context.Background()

	_, err := s.Put(ctx, id, newState(id), 0)
	require.NoError(t, err)

	// Another writer advances the document.
	advanced := newState(id)
	advanced.Session.CurrentStep = types.StepAnalysis
	_, err = s.Put(ctx, id, advanced, 1)
	require.NoError(t, err)

	// A write based on the stale version conflicts.
	_, err = s.Put(ctx, id, newState(id), 1)
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), conflict.RemoteVersion)
	require.NotNil(t, conflict.Remote)
	assert.Equal(t, types.StepAnalysis, conflict.Remote.Session.CurrentStep)
}

func TestMemoryStore_SubscribeRemoteChanges(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()
	ctx := context.Background()

	var seen []*types.EnhancedSessionState
	cancel, err := s.SubscribeRemoteChanges(ctx, id, func(state *types.EnhancedSessionState) {
		seen = append(seen, state)
	})
	require.NoError(t, err)

	_, err = s.Put(ctx, id, newState(id), 0)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, int64(1), seen[0].Sync.SyncVersion)

	cancel()
	_, err = s.Put(ctx, id, newState(id), 1)
	require.NoError(t, err)
	assert.Len(t, seen, 1)
}

func TestMemoryStore_PutStoresACopy(t *testing.T) {
	s := NewMemoryStore()
	id := uuid.New()
	ctx := context.Background()

	state := newState(id)
	_, err := s.Put(ctx, id, state, 0)
	require.NoError(t, err)

	// Mutating the caller's copy after Put must not affect the stored doc.
	state.Session.CurrentStep = types.StepExport

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StepUpload, got.Session.CurrentStep)
}
