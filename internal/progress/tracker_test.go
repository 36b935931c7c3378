package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func uploadStep() *types.StepProgressState {
	return &types.StepProgressState{
		Step: types.StepUpload,
		Substeps: []types.SubstepProgress{
			{ID: "choose_file", Status: types.SubstepPending},
			{ID: "parse_file", Status: types.SubstepPending},
			{ID: "confirm", Status: types.SubstepPending},
		},
	}
}

func TestTransitionSubstep_LegalPath(t *testing.T) {
	sp := uploadStep()
	now := time.Now().UTC()

	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepInProgress, now))
	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepCompleted, now.Add(time.Second)))

	sub := sp.Substep("choose_file")
	assert.Equal(t, types.SubstepCompleted, sub.Status)
	assert.NotNil(t, sub.StartedAt)
	assert.NotNil(t, sub.CompletedAt)
	assert.Equal(t, int64(1000), sp.TimeSpentMs)
	assert.Equal(t, 33, sp.CompletionPercentage)
}

func TestTransitionSubstep_IllegalTransitionLeavesStateUnchanged(t *testing.T) {
	sp := uploadStep()

	err := TransitionSubstep(sp, "choose_file", types.SubstepCompleted, time.Now())

	var invalid *types.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "pending", invalid.From)
	assert.Equal(t, "completed", invalid.To)
	assert.Equal(t, types.SubstepPending, sp.Substep("choose_file").Status)
	assert.Equal(t, 0, sp.CompletionPercentage)
}

func TestTransitionSubstep_UnknownSubstep(t *testing.T) {
	sp := uploadStep()
	err := TransitionSubstep(sp, "nope", types.SubstepInProgress, time.Now())
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestTransitionSubstep_ErrorRetry(t *testing.T) {
	sp := uploadStep()
	now := time.Now().UTC()
	require.NoError(t, TransitionSubstep(sp, "parse_file", types.SubstepInProgress, now))
	require.NoError(t, TransitionSubstep(sp, "parse_file", types.SubstepError, now))
	require.NoError(t, TransitionSubstep(sp, "parse_file", types.SubstepInProgress, now))
	assert.Equal(t, types.SubstepInProgress, sp.Substep("parse_file").Status)
}

func TestComputeCompletion_Idempotent(t *testing.T) {
	sp := uploadStep()
	now := time.Now().UTC()
	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepInProgress, now))
	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepCompleted, now))

	first := ComputeCompletion(sp)
	second := ComputeCompletion(sp)
	assert.Equal(t, first, second)

	// Re-marking the same substep completed is a no-op.
	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepCompleted, now))
	assert.Equal(t, first, ComputeCompletion(sp))
}

func TestComputeCompletion_FullOnlyWhenAllTerminal(t *testing.T) {
	sp := uploadStep()
	now := time.Now().UTC()
	for _, id := range []string{"choose_file", "parse_file"} {
		require.NoError(t, TransitionSubstep(sp, id, types.SubstepInProgress, now))
		require.NoError(t, TransitionSubstep(sp, id, types.SubstepCompleted, now))
	}
	assert.Equal(t, 66, ComputeCompletion(sp))

	require.NoError(t, TransitionSubstep(sp, "confirm", types.SubstepInProgress, now))
	require.NoError(t, TransitionSubstep(sp, "confirm", types.SubstepSkipped, now))
	assert.Equal(t, 100, ComputeCompletion(sp))
}

func TestComputeCompletion_ZeroSubsteps(t *testing.T) {
	sp := &types.StepProgressState{Step: types.StepReview}
	assert.Equal(t, 0, ComputeCompletion(sp))
	assert.Equal(t, 0, ComputeCompletion(nil))
}

func TestComputeOverallProgress_CountsCompletedStepsWithoutSubsteps(t *testing.T) {
	state := types.NewEnhancedSessionState(types.Session{
		CurrentStep:    types.StepAnalysis,
		CompletedSteps: []types.Step{types.StepUpload},
	})
	// One of eight steps fully complete.
	assert.Equal(t, 12, ComputeOverallProgress(state))

	sp := uploadStep()
	sp.Step = types.StepAnalysis
	state.StepProgress[types.StepAnalysis] = sp
	now := time.Now().UTC()
	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepInProgress, now))
	require.NoError(t, TransitionSubstep(sp, "choose_file", types.SubstepCompleted, now))

	// Progress only ever grows as substeps finish.
	assert.GreaterOrEqual(t, ComputeOverallProgress(state), 12)
}

func TestRecordInteraction(t *testing.T) {
	sp := uploadStep()
	RecordInteraction(sp, types.UserInteraction{Kind: types.InteractionEdit, Target: "file"})
	require.Len(t, sp.Interactions, 1)
	assert.False(t, sp.LastModified.IsZero())
}
