// Package navigation computes resumability guidance from session state.
// Everything here is a pure function over the aggregate; nothing mutates.
package navigation

import (
	"fmt"

	"github.com/jonathan/cv-session-engine/internal/progress"
	"github.com/jonathan/cv-session-engine/internal/types"
)

// NavigationPath describes the accessibility of one wizard step.
type NavigationPath struct {
	Step       types.Step `json:"step"`
	Accessible bool       `json:"accessible"`
	Reason     string     `json:"reason,omitempty"`
	Completion int        `json:"completion"`
}

// AlternativeResumeOption is a fallback entry point offered alongside the
// primary recommendation.
type AlternativeResumeOption struct {
	Step        types.Step `json:"step"`
	Description string     `json:"description"`
}

// ResumeRecommendation is the ranked guidance produced when a session is
// reopened.
type ResumeRecommendation struct {
	Step         types.Step                `json:"step"`
	Confidence   float64                   `json:"confidence"`
	Reason       string                    `json:"reason"`
	Alternatives []AlternativeResumeOption `json:"alternatives"`
}

// ComputeReachablePaths evaluates every wizard step against the session's
// completed set. A step is accessible when each prerequisite is completed or
// covered by a skippable checkpoint; otherwise the path carries the blocking
// reason.
func ComputeReachablePaths(state *types.EnhancedSessionState) []NavigationPath {
	skippable := skippableSteps(state)
	paths := make([]NavigationPath, 0, len(types.StepOrder))
	for _, step := range types.StepOrder {
		path := NavigationPath{Step: step, Accessible: true}
		for _, prereq := range types.StepPrerequisites[step] {
			if state.Session.HasCompleted(prereq) || skippable[prereq] {
				continue
			}
			path.Accessible = false
			path.Reason = fmt.Sprintf("requires step %q to be completed", prereq)
			break
		}
		if sp, ok := state.StepProgress[step]; ok {
			path.Completion = progress.ComputeCompletion(sp)
		}
		if state.Session.HasCompleted(step) {
			path.Completion = 100
		}
		paths = append(paths, path)
	}
	return paths
}

// skippableSteps collects steps covered by a checkpoint marked CanSkip.
func skippableSteps(state *types.EnhancedSessionState) map[types.Step]bool {
	out := make(map[types.Step]bool)
	for _, cp := range state.Checkpoints {
		if cp.CanSkip && cp.Step != "" {
			out[cp.Step] = true
		}
	}
	return out
}

// RecommendResume picks the most advanced step that is both accessible and
// not fully complete. Confidence drops when the step carries blockers or
// validation errors. At least one alternative is always offered so the
// caller is never left without a choice.
func RecommendResume(state *types.EnhancedSessionState) ResumeRecommendation {
	paths := ComputeReachablePaths(state)

	var pick *NavigationPath
	for i := range paths {
		p := &paths[i]
		if !p.Accessible || p.Completion >= 100 {
			continue
		}
		pick = p // StepOrder is ascending, so the last hit is the most advanced
	}
	if pick == nil {
		// Everything reachable is complete; resume at the final step.
		last := paths[len(paths)-1]
		return ResumeRecommendation{
			Step:         last.Step,
			Confidence:   1.0,
			Reason:       "all steps are complete",
			Alternatives: alternatives(paths, last.Step),
		}
	}

	confidence := 1.0
	reason := fmt.Sprintf("step %q is the most advanced accessible incomplete step", pick.Step)
	if sp, ok := state.StepProgress[pick.Step]; ok && len(sp.Blockers) > 0 {
		confidence -= 0.3
		reason = fmt.Sprintf("step %q has %d open blocker(s)", pick.Step, len(sp.Blockers))
	}
	if errs := state.ValidationResults[pick.Step]; len(errs) > 0 {
		confidence -= 0.2
		reason = fmt.Sprintf("step %q has %d validation error(s)", pick.Step, len(errs))
	}
	if confidence < 0.1 {
		confidence = 0.1
	}

	return ResumeRecommendation{
		Step:         pick.Step,
		Confidence:   confidence,
		Reason:       reason,
		Alternatives: alternatives(paths, pick.Step),
	}
}

// alternatives always yields at least one option: restarting from the first
// incomplete accessible step, falling back to the first wizard step.
func alternatives(paths []NavigationPath, exclude types.Step) []AlternativeResumeOption {
	var out []AlternativeResumeOption
	for _, p := range paths {
		if p.Step == exclude || !p.Accessible {
			continue
		}
		if p.Completion < 100 {
			out = append(out, AlternativeResumeOption{
				Step:        p.Step,
				Description: fmt.Sprintf("start over from step %q", p.Step),
			})
			break
		}
	}
	if len(out) == 0 {
		out = append(out, AlternativeResumeOption{
			Step:        types.StepOrder[0],
			Description: "start over from the beginning",
		})
	}
	return out
}
