// Package observability provides the engine's logger construction and
// formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/cv-session-engine/internal/navigation"
	"github.com/jonathan/cv-session-engine/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintSessionSummary outputs a human-readable summary of one session
// aggregate.
func (p *Printer) PrintSessionSummary(state *types.EnhancedSessionState) {
	if state == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session:  %s\n", state.Session.ID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", state.Session.Status))
	sb.WriteString(fmt.Sprintf("Step:     %s\n", state.Session.CurrentStep))
	sb.WriteString(fmt.Sprintf("Progress: %d%%\n", state.Session.ProgressPercentage))
	sb.WriteString(fmt.Sprintf("Sync:     %s (v%d)\n", state.Sync.State, state.Sync.SyncVersion))

	if len(state.Session.CompletedSteps) > 0 {
		steps := make([]string, len(state.Session.CompletedSteps))
		for i, s := range state.Session.CompletedSteps {
			steps[i] = string(s)
		}
		sb.WriteString(fmt.Sprintf("\nCompleted: %s\n", strings.Join(steps, ", ")))
	}

	if len(state.Features) > 0 {
		enabled := 0
		for _, f := range state.Features {
			if f.Enabled {
				enabled++
			}
		}
		sb.WriteString(fmt.Sprintf("Features:  %d registered, %d enabled\n", len(state.Features), enabled))
	}

	if n := len(state.Sync.Conflicts); n > 0 {
		sb.WriteString(fmt.Sprintf("Conflicts: %d awaiting resolution\n", n))
	}

	p.printBox("SESSION STATE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintStepProgress outputs per-step completion with substep detail.
func (p *Printer) PrintStepProgress(state *types.EnhancedSessionState) {
	if state == nil || len(state.StepProgress) == 0 {
		return
	}

	var sb strings.Builder
	for _, step := range types.StepOrder {
		sp, ok := state.StepProgress[step]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("%-14s %3d%%\n", step, sp.CompletionPercentage))

		count := min(len(sp.Substeps), maxItemsToShow)
		for i := 0; i < count; i++ {
			sub := sp.Substeps[i]
			sb.WriteString(fmt.Sprintf("  • %s (%s)\n", sub.ID, sub.Status))
		}
		if len(sp.Substeps) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(sp.Substeps)-maxItemsToShow))
		}
		for _, blocker := range sp.Blockers {
			sb.WriteString(fmt.Sprintf("  ! %s\n", blocker))
		}
	}

	p.printBox("STEP PROGRESS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintResumeRecommendation outputs where a reopened session should resume.
func (p *Printer) PrintResumeRecommendation(rec *navigation.ResumeRecommendation) {
	if rec == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Resume at:  %s\n", rec.Step))
	sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", rec.Confidence))
	sb.WriteString(fmt.Sprintf("Reason:     %s\n", rec.Reason))

	if len(rec.Alternatives) > 0 {
		sb.WriteString("\nAlternatives:\n")
		count := min(len(rec.Alternatives), maxItemsToShow)
		for i := 0; i < count; i++ {
			alt := rec.Alternatives[i]
			sb.WriteString(fmt.Sprintf("  • %s: %s\n", alt.Step, alt.Description))
		}
	}

	p.printBox("RESUME RECOMMENDATION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintQueueStats outputs processing queue counters.
func (p *Printer) PrintQueueStats(stats types.QueueStats) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total:      %d\n", stats.Total))
	sb.WriteString(fmt.Sprintf("Queued:     %d\n", stats.Queued))
	sb.WriteString(fmt.Sprintf("Processing: %d\n", stats.Processing))
	sb.WriteString(fmt.Sprintf("Completed:  %d\n", stats.Completed))
	sb.WriteString(fmt.Sprintf("Failed:     %d\n", stats.Failed))
	sb.WriteString(fmt.Sprintf("Success:    %.0f%%", stats.SuccessRate*100))

	p.printBox("PROCESSING QUEUE", sb.String())
}
