package schemas

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func newValidState() *types.EnhancedSessionState {
	now := time.Now().UTC()
	return types.NewEnhancedSessionState(types.Session{
		ID:           uuid.New(),
		CurrentStep:  types.StepUpload,
		Status:       types.SessionDraft,
		CreatedAt:    now,
		LastActiveAt: now,
	})
}

func TestStateValidator_ValidDocument(t *testing.T) {
	v, err := NewStateValidator("")
	require.NoError(t, err)

	assert.NoError(t, v.Validate(newValidState()))
}

func TestStateValidator_RejectsUnknownStep(t *testing.T) {
	v, err := NewStateValidator("")
	require.NoError(t, err)

	state := newValidState()
	state.Session.CurrentStep = "teleport"

	verr := v.Validate(state)
	require.Error(t, verr)
	validationErr, ok := verr.(*ValidationError)
	require.True(t, ok)
	assert.Greater(t, len(validationErr.Errors), 0)
}

func TestStateValidator_RejectsOutOfRangeProgress(t *testing.T) {
	v, err := NewStateValidator("")
	require.NoError(t, err)

	state := newValidState()
	state.Session.ProgressPercentage = 140

	require.Error(t, v.Validate(state))
}

func TestStateValidator_RejectsUnknownStatus(t *testing.T) {
	v, err := NewStateValidator("")
	require.NoError(t, err)

	state := newValidState()
	state.Session.Status = "vaporized"

	require.Error(t, v.Validate(state))
}

func TestNewStateValidator_MissingFile(t *testing.T) {
	_, err := NewStateValidator("testdata/no_such_schema.json")
	require.Error(t, err)
}

func TestNewStateValidatorFromString(t *testing.T) {
	v := NewStateValidatorFromString(`{"type":"object"}`)
	assert.NoError(t, v.Validate(newValidState()))
}
