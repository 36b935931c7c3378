package features

import (
	"sort"
	"time"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// ResolvedAction is the winning rule outcome for one target after an
// evaluation pass.
type ResolvedAction struct {
	TargetID string
	Action   types.RuleAction
	RuleID   string
	Priority int
}

// RuleError reports a per-rule evaluation failure. Malformed conditions do
// not abort evaluation of the remaining rules.
type RuleError struct {
	RuleID string
	Err    error
}

// Registry enforces feature dependency invariants and resolves conditional
// rules over a feature map. The registry mutates only the map it was handed;
// the session store hands it the aggregate's own feature map under the
// store's serialization.
type Registry struct {
	features map[string]*types.FeatureState
}

// NewRegistry wraps an existing feature map.
func NewRegistry(features map[string]*types.FeatureState) *Registry {
	if features == nil {
		features = make(map[string]*types.FeatureState)
	}
	return &Registry{features: features}
}

// Get returns the feature with the given id, or nil.
func (r *Registry) Get(id string) *types.FeatureState { return r.features[id] }

// Register adds a feature definition. Existing entries are replaced.
func (r *Registry) Register(f *types.FeatureState) { r.features[f.ID] = f }

// unmetDependencies returns the hard dependencies of f that are not enabled.
func (r *Registry) unmetDependencies(f *types.FeatureState) []string {
	var unmet []string
	for _, dep := range f.Dependencies {
		got := r.features[dep]
		if got == nil || !got.Enabled {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// enabledDependents returns ids of enabled features that list id as a hard
// dependency.
func (r *Registry) enabledDependents(id string) []string {
	var dependents []string
	for _, f := range r.features {
		if !f.Enabled {
			continue
		}
		for _, dep := range f.Dependencies {
			if dep == id {
				dependents = append(dependents, f.ID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// hasEnableOverride reports whether any conditional rule with action enable
// or require targeting id is currently satisfied under ctx.
func (r *Registry) hasEnableOverride(id string, ctx Context) bool {
	if ctx == nil {
		return false
	}
	for _, f := range r.features {
		for _, rule := range f.Rules {
			if rule.TargetID != id {
				continue
			}
			if rule.Action != types.ActionEnable && rule.Action != types.ActionRequire {
				continue
			}
			if ok, err := EvalCondition(rule.Condition, ctx); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// SetEnabled toggles a feature, enforcing hard dependencies in both
// directions. Enabling fails while a hard dependency is unmet unless a
// satisfied enable/require rule targets the feature; disabling fails while
// an enabled feature depends on it, under the same override escape hatch.
func (r *Registry) SetEnabled(id string, enabled bool, ctx Context, now time.Time) (*types.FeatureState, error) {
	f := r.features[id]
	if f == nil {
		return nil, &types.ValidationError{Field: "feature_id", Message: "unknown feature: " + id}
	}
	if f.Enabled == enabled {
		return f, nil
	}
	if enabled {
		if unmet := r.unmetDependencies(f); len(unmet) > 0 && !r.hasEnableOverride(id, ctx) {
			return nil, &types.DependencyError{ID: id, Missing: unmet}
		}
	} else {
		var blocking []string
		for _, dep := range r.enabledDependents(id) {
			if !r.hasEnableOverride(dep, ctx) {
				blocking = append(blocking, dep)
			}
		}
		if len(blocking) > 0 {
			return nil, &types.DependencyError{
				ID:      id,
				Missing: blocking,
				Message: "feature is a hard dependency of enabled features",
			}
		}
	}
	f.Enabled = enabled
	f.UpdatedAt = now
	return f, nil
}

// Evaluate runs all rules against ctx in descending priority order. For a
// given target only the highest-priority matching rule's action is returned;
// lower-priority matches are ignored, not errors. Per-rule evaluation
// failures are collected and do not stop the pass.
func (r *Registry) Evaluate(rules []types.ConditionalRule, ctx Context) ([]ResolvedAction, []RuleError) {
	ordered := append([]types.ConditionalRule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var (
		actions  []ResolvedAction
		failures []RuleError
		decided  = make(map[string]bool)
	)
	for _, rule := range ordered {
		if decided[rule.TargetID] {
			continue
		}
		matched, err := EvalCondition(rule.Condition, ctx)
		if err != nil {
			failures = append(failures, RuleError{RuleID: rule.ID, Err: err})
			continue
		}
		if !matched {
			continue
		}
		decided[rule.TargetID] = true
		actions = append(actions, ResolvedAction{
			TargetID: rule.TargetID,
			Action:   rule.Action,
			RuleID:   rule.ID,
			Priority: rule.Priority,
		})
	}
	return actions, failures
}

// AllRules collects the rules declared by every registered feature.
func (r *Registry) AllRules() []types.ConditionalRule {
	ids := make([]string, 0, len(r.features))
	for id := range r.features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var rules []types.ConditionalRule
	for _, id := range ids {
		rules = append(rules, r.features[id].Rules...)
	}
	return rules
}

// ApplyResolvedActions applies rule outcomes to feature state. Enable and
// require outcomes still respect hard dependencies: an unsatisfiable require
// surfaces as a DependencyError instead of forcing an inconsistent enabled
// state. All errors are collected; unaffected actions still apply.
func (r *Registry) ApplyResolvedActions(actions []ResolvedAction, ctx Context, now time.Time) []error {
	var errs []error
	for _, action := range actions {
		f := r.features[action.TargetID]
		if f == nil {
			// Rules may also target step ids; those are handled by the
			// navigation layer, not the feature registry.
			continue
		}
		switch action.Action {
		case types.ActionEnable, types.ActionRequire:
			if unmet := r.unmetDependencies(f); len(unmet) > 0 {
				errs = append(errs, &types.DependencyError{ID: f.ID, Missing: unmet})
				continue
			}
			if !f.Enabled {
				f.Enabled = true
				f.UpdatedAt = now
			}
		case types.ActionDisable:
			if _, err := r.SetEnabled(f.ID, false, ctx, now); err != nil {
				errs = append(errs, err)
			}
		case types.ActionRecommend:
			f.Recommended = true
			f.UpdatedAt = now
		case types.ActionHide:
			f.Hidden = true
			f.UpdatedAt = now
		case types.ActionShow:
			f.Hidden = false
			f.UpdatedAt = now
		}
	}
	return errs
}
