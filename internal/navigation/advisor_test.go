package navigation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func freshSession() *types.EnhancedSessionState {
	return types.NewEnhancedSessionState(types.Session{
		ID:          uuid.New(),
		CurrentStep: types.StepUpload,
		Status:      types.SessionDraft,
	})
}

func TestComputeReachablePaths_FreshSession(t *testing.T) {
	paths := ComputeReachablePaths(freshSession())
	require.Len(t, paths, len(types.StepOrder))

	byStep := make(map[types.Step]NavigationPath)
	for _, p := range paths {
		byStep[p.Step] = p
	}
	assert.True(t, byStep[types.StepUpload].Accessible)
	assert.False(t, byStep[types.StepAnalysis].Accessible)
	assert.Contains(t, byStep[types.StepAnalysis].Reason, "upload")
	assert.False(t, byStep[types.StepExport].Accessible)
}

func TestComputeReachablePaths_CompletedPrerequisitesUnlock(t *testing.T) {
	state := freshSession()
	state.Session.CompletedSteps = []types.Step{types.StepUpload}

	paths := ComputeReachablePaths(state)
	for _, p := range paths {
		switch p.Step {
		case types.StepAnalysis, types.StepPersonalInfo:
			assert.True(t, p.Accessible, "step %s should unlock once upload completes", p.Step)
		case types.StepUpload:
			assert.True(t, p.Accessible)
			assert.Equal(t, 100, p.Completion)
		}
	}
}

func TestComputeReachablePaths_SkippableCheckpointCoversPrerequisite(t *testing.T) {
	state := freshSession()
	state.Checkpoints = append(state.Checkpoints, &types.ProcessingCheckpoint{
		ID:      uuid.New(),
		Step:    types.StepUpload,
		CanSkip: true,
	})

	paths := ComputeReachablePaths(state)
	for _, p := range paths {
		if p.Step == types.StepAnalysis {
			assert.True(t, p.Accessible, "skippable checkpoint should satisfy the upload prerequisite")
		}
	}
}

func TestRecommendResume_FreshSessionPointsAtUpload(t *testing.T) {
	rec := RecommendResume(freshSession())
	assert.Equal(t, types.StepUpload, rec.Step)
	assert.GreaterOrEqual(t, len(rec.Alternatives), 1)
	assert.Equal(t, 1.0, rec.Confidence)
}

func TestRecommendResume_PicksMostAdvancedAccessibleIncomplete(t *testing.T) {
	state := freshSession()
	state.Session.CompletedSteps = []types.Step{types.StepUpload, types.StepAnalysis, types.StepPersonalInfo}

	rec := RecommendResume(state)
	// features (needs analysis) and experience (needs personal_info) are both
	// open; features sits later in the wizard order.
	assert.Equal(t, types.StepFeatures, rec.Step)
	require.GreaterOrEqual(t, len(rec.Alternatives), 1)
	assert.Equal(t, types.StepExperience, rec.Alternatives[0].Step)
}

func TestRecommendResume_BlockersReduceConfidence(t *testing.T) {
	state := freshSession()
	state.StepProgress[types.StepUpload] = &types.StepProgressState{
		Step:     types.StepUpload,
		Substeps: []types.SubstepProgress{{ID: "choose_file", Status: types.SubstepPending}},
		Blockers: []string{"file exceeds size limit"},
	}
	state.ValidationResults = map[types.Step][]string{
		types.StepUpload: {"unsupported file type"},
	}

	rec := RecommendResume(state)
	assert.Equal(t, types.StepUpload, rec.Step)
	assert.InDelta(t, 0.5, rec.Confidence, 0.0001)
	assert.GreaterOrEqual(t, len(rec.Alternatives), 1)
}

func TestRecommendResume_AllComplete(t *testing.T) {
	state := freshSession()
	state.Session.CompletedSteps = append([]types.Step(nil), types.StepOrder...)

	rec := RecommendResume(state)
	assert.Equal(t, types.StepExport, rec.Step)
	assert.GreaterOrEqual(t, len(rec.Alternatives), 1)
}
