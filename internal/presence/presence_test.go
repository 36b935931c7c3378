package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func TestMemoryTracker_HeartbeatAndExpiry(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	tracker.clock = func() time.Time { return now }

	sessionID := uuid.New()
	userA := uuid.New()
	require.NoError(t, tracker.Heartbeat(context.Background(), sessionID, types.UserPresence{
		UserID: userA, ClientID: "tab-1", ActiveStep: types.StepExperience,
	}))
	require.NoError(t, tracker.Heartbeat(context.Background(), sessionID, types.UserPresence{
		UserID: uuid.New(), ClientID: "tab-2",
	}))

	active, err := tracker.Active(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// Refresh only tab-1, then move past the TTL for tab-2.
	now = now.Add(45 * time.Second)
	require.NoError(t, tracker.Heartbeat(context.Background(), sessionID, types.UserPresence{
		UserID: userA, ClientID: "tab-1",
	}))
	now = now.Add(30 * time.Second)

	active, err = tracker.Active(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "tab-1", active[0].ClientID)
}

func TestMemoryTracker_UnknownSessionIsEmpty(t *testing.T) {
	tracker := NewMemoryTracker(0)
	active, err := tracker.Active(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, active)
}
