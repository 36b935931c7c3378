package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/types"
)

func newTestRegistry() *Registry {
	r := NewRegistry(nil)
	r.Register(&types.FeatureState{ID: "analysis"})
	r.Register(&types.FeatureState{ID: "cover_letter", Dependencies: []string{"analysis"}})
	r.Register(&types.FeatureState{ID: "video_intro"})
	return r
}

func TestSetEnabled_RejectsUnmetDependency(t *testing.T) {
	r := newTestRegistry()
	now := time.Now().UTC()

	_, err := r.SetEnabled("cover_letter", true, nil, now)
	var dep *types.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Contains(t, dep.Missing, "analysis")

	// Enabling the dependency first makes the same call succeed.
	_, err = r.SetEnabled("analysis", true, nil, now)
	require.NoError(t, err)
	f, err := r.SetEnabled("cover_letter", true, nil, now)
	require.NoError(t, err)
	assert.True(t, f.Enabled)
}

func TestSetEnabled_RejectsDisablingADependency(t *testing.T) {
	r := newTestRegistry()
	now := time.Now().UTC()
	_, err := r.SetEnabled("analysis", true, nil, now)
	require.NoError(t, err)
	_, err = r.SetEnabled("cover_letter", true, nil, now)
	require.NoError(t, err)

	_, err = r.SetEnabled("analysis", false, nil, now)
	var dep *types.DependencyError
	require.ErrorAs(t, err, &dep)
	assert.Contains(t, dep.Missing, "cover_letter")

	// Disabling the dependent first unblocks it.
	_, err = r.SetEnabled("cover_letter", false, nil, now)
	require.NoError(t, err)
	_, err = r.SetEnabled("analysis", false, nil, now)
	require.NoError(t, err)
}

func TestSetEnabled_RuleOverrideBypassesDependencyCheck(t *testing.T) {
	r := newTestRegistry()
	now := time.Now().UTC()
	r.Register(&types.FeatureState{
		ID: "premium",
		Rules: []types.ConditionalRule{
			{ID: "r1", Condition: "plan == 'pro'", Action: types.ActionEnable, TargetID: "cover_letter", Priority: 10},
		},
	})

	ctx := Context{"plan": "pro"}
	f, err := r.SetEnabled("cover_letter", true, ctx, now)
	require.NoError(t, err)
	assert.True(t, f.Enabled)

	// Without the satisfying context the override does not apply.
	r2 := newTestRegistry()
	r2.Register(&types.FeatureState{
		ID: "premium",
		Rules: []types.ConditionalRule{
			{ID: "r1", Condition: "plan == 'pro'", Action: types.ActionEnable, TargetID: "cover_letter", Priority: 10},
		},
	})
	_, err = r2.SetEnabled("cover_letter", true, Context{"plan": "free"}, now)
	var dep *types.DependencyError
	require.ErrorAs(t, err, &dep)
}

func TestSetEnabled_UnknownFeature(t *testing.T) {
	r := newTestRegistry()
	_, err := r.SetEnabled("nope", true, nil, time.Now())
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestEvaluate_HighestPriorityWinsPerTarget(t *testing.T) {
	r := newTestRegistry()
	rules := []types.ConditionalRule{
		{ID: "low", Condition: "true", Action: types.ActionHide, TargetID: "video_intro", Priority: 1},
		{ID: "high", Condition: "true", Action: types.ActionShow, TargetID: "video_intro", Priority: 9},
		{ID: "other", Condition: "score >= 80", Action: types.ActionRecommend, TargetID: "cover_letter", Priority: 5},
	}

	actions, failures := r.Evaluate(rules, Context{"score": float64(85)})
	require.Empty(t, failures)
	require.Len(t, actions, 2)
	assert.Equal(t, "high", actions[0].RuleID)
	assert.Equal(t, types.ActionShow, actions[0].Action)
	assert.Equal(t, types.ActionRecommend, actions[1].Action)
}

func TestEvaluate_MalformedConditionDoesNotAbortPass(t *testing.T) {
	r := newTestRegistry()
	rules := []types.ConditionalRule{
		{ID: "bad", Condition: "score >= ", Action: types.ActionEnable, TargetID: "video_intro", Priority: 9},
		{ID: "good", Condition: "true", Action: types.ActionRecommend, TargetID: "cover_letter", Priority: 1},
	}

	actions, failures := r.Evaluate(rules, Context{})
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].RuleID)
	require.Len(t, actions, 1)
	assert.Equal(t, "good", actions[0].RuleID)
}

func TestApplyResolvedActions_RequireWithUnmetDepsSurfacesError(t *testing.T) {
	r := newTestRegistry()
	now := time.Now().UTC()

	errs := r.ApplyResolvedActions([]ResolvedAction{
		{TargetID: "cover_letter", Action: types.ActionRequire},
		{TargetID: "video_intro", Action: types.ActionRecommend},
	}, nil, now)

	require.Len(t, errs, 1)
	var dep *types.DependencyError
	require.ErrorAs(t, errs[0], &dep)
	assert.False(t, r.Get("cover_letter").Enabled)
	assert.True(t, r.Get("video_intro").Recommended)
}

func TestApplyResolvedActions_HideShow(t *testing.T) {
	r := newTestRegistry()
	now := time.Now().UTC()

	require.Empty(t, r.ApplyResolvedActions([]ResolvedAction{
		{TargetID: "video_intro", Action: types.ActionHide},
	}, nil, now))
	assert.True(t, r.Get("video_intro").Hidden)

	require.Empty(t, r.ApplyResolvedActions([]ResolvedAction{
		{TargetID: "video_intro", Action: types.ActionShow},
	}, nil, now))
	assert.False(t, r.Get("video_intro").Hidden)
}

func TestApplyResolvedActions_StepTargetsIgnored(t *testing.T) {
	r := newTestRegistry()
	errs := r.ApplyResolvedActions([]ResolvedAction{
		{TargetID: "template", Action: types.ActionHide},
	}, nil, time.Now())
	assert.Empty(t, errs)
}
