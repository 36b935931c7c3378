//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// RuleAction is the outcome a conditional rule applies to its target.
type RuleAction string

// Conditional rule actions.
const (
	ActionEnable    RuleAction = "enable"
	ActionDisable   RuleAction = "disable"
	ActionRequire   RuleAction = "require"
	ActionRecommend RuleAction = "recommend"
	ActionHide      RuleAction = "hide"
	ActionShow      RuleAction = "show"
)

// Valid reports whether the action is a known rule action.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionEnable, ActionDisable, ActionRequire, ActionRecommend, ActionHide, ActionShow:
		return true
	}
	return false
}

// ConditionalRule maps a condition expression to an action on a target
// feature or step. Rules are evaluated in descending priority; for a given
// target only the highest-priority matching rule applies.
type ConditionalRule struct {
	ID        string     `json:"id"`
	Condition string     `json:"condition"`
	Action    RuleAction `json:"action"`
	TargetID  string     `json:"target_id"`
	Priority  int        `json:"priority"`
}

// FeatureProgress tracks the processing lifecycle of a feature's content.
type FeatureProgress struct {
	Configured bool   `json:"configured"`
	Processing bool   `json:"processing"`
	Completed  bool   `json:"completed"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// FeatureState tracks one selectable feature of the builder.
//
// A feature may not be enabled while a hard dependency (a feature id listed
// in Dependencies whose state is disabled) is unmet, unless a conditional
// rule currently overrides it. Enforcement lives in the feature registry.
type FeatureState struct {
	ID            string            `json:"id"`
	Enabled       bool              `json:"enabled"`
	Hidden        bool              `json:"hidden,omitempty"`
	Recommended   bool              `json:"recommended,omitempty"`
	Configuration map[string]any    `json:"configuration,omitempty"`
	Progress      FeatureProgress   `json:"progress"`
	Dependencies  []string          `json:"dependencies,omitempty"`
	Rules         []ConditionalRule `json:"rules,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
