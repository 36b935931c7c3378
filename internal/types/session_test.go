//nolint:revive // types is a standard Go package name pattern
package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep_Valid(t *testing.T) {
	for _, step := range StepOrder {
		assert.True(t, step.Valid(), "step %s should be valid", step)
	}
	assert.False(t, Step("payment").Valid())
	assert.False(t, Step("").Valid())
}

func TestStep_Index(t *testing.T) {
	assert.Equal(t, 0, StepUpload.Index())
	assert.Equal(t, len(StepOrder)-1, StepExport.Index())
	assert.Equal(t, -1, Step("unknown").Index())
}

func TestStepPrerequisites_OnlyReferenceKnownSteps(t *testing.T) {
	for step, prereqs := range StepPrerequisites {
		assert.True(t, step.Valid())
		for _, p := range prereqs {
			assert.True(t, p.Valid(), "prerequisite %s of %s must be a known step", p, step)
			assert.Less(t, p.Index(), step.Index(), "prerequisite %s must precede %s", p, step)
		}
	}
}

func TestSession_HasCompleted(t *testing.T) {
	s := Session{CompletedSteps: []Step{StepUpload, StepAnalysis}}
	assert.True(t, s.HasCompleted(StepUpload))
	assert.False(t, s.HasCompleted(StepReview))
}

func TestSubstepStatus_Terminal(t *testing.T) {
	assert.True(t, SubstepCompleted.Terminal())
	assert.True(t, SubstepSkipped.Terminal())
	assert.False(t, SubstepPending.Terminal())
	assert.False(t, SubstepInProgress.Terminal())
	assert.False(t, SubstepError.Terminal())
}

func TestSessionStatus_Valid(t *testing.T) {
	assert.True(t, SessionDraft.Valid())
	assert.True(t, SessionProcessing.Valid())
	assert.False(t, SessionStatus("archived").Valid())
}
