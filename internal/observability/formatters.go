// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/content-factory/internal/types"
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

// PrintRunSummary outputs a human-readable summary of a finished run.
func (p *Printer) PrintRunSummary(run *types.Run) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:   %s\n", run.Status))
	sb.WriteString(fmt.Sprintf("Topic:    %s\n", run.Topic))
	if run.BrandVoice != "" {
		sb.WriteString(fmt.Sprintf("Voice:    %s\n", run.BrandVoice))
	}
	if len(run.TargetPlatforms) > 0 {
		sb.WriteString(fmt.Sprintf("Targets:  %s\n", strings.Join(run.TargetPlatforms, ", ")))
	}
	if run.FailedStage != "" {
		sb.WriteString(fmt.Sprintf("Failed:   %s (%s)\n", run.FailedStage, run.ErrorMessage))
	}

	sb.WriteString("\nStages:\n")
	for _, st := range stagesInOrder(run) {
		mark := " "
		switch st.Status {
		case types.StageStatusCompleted:
			mark = "✓"
		case types.StageStatusFailed:
			mark = "✗"
		case types.StageStatusRunning:
			mark = "…"
		}
		line := fmt.Sprintf("  %s %-12s %s", mark, st.StageID, st.Status)
		if stats := run.Metrics.PerStage[st.StageID]; stats != nil {
			line += fmt.Sprintf(" (%dms)", stats.DurationMs)
		}
		sb.WriteString(line + "\n")
	}

	p.printBox(fmt.Sprintf("Run %s", run.ID), strings.TrimRight(sb.String(), "\n"))
}

// PrintArtifacts outputs the artifacts a run produced.
func (p *Printer) PrintArtifacts(run *types.Run) {
	if run == nil || len(run.Artifacts) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(run.Artifacts), maxItemsToShow)
	for i := 0; i < count; i++ {
		a := run.Artifacts[i]
		sb.WriteString(fmt.Sprintf("• %s (%s, %d bytes)\n", a.Title, a.Type, len(a.Content)))
	}
	if len(run.Artifacts) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(run.Artifacts)-maxItemsToShow))
	}

	p.printBox(fmt.Sprintf("Artifacts (%d)", len(run.Artifacts)), strings.TrimRight(sb.String(), "\n"))
}

// PrintEvidence outputs the evidence the discovery stage collected.
func (p *Printer) PrintEvidence(run *types.Run) {
	if run == nil || len(run.Evidence) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(run.Evidence), maxItemsToShow)
	for i := 0; i < count; i++ {
		e := run.Evidence[i]
		title := e.Title
		if title == "" {
			title = e.URL
		}
		sb.WriteString(fmt.Sprintf("• %s\n  %s\n", title, e.URL))
	}
	if len(run.Evidence) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(run.Evidence)-maxItemsToShow))
	}

	p.printBox(fmt.Sprintf("Evidence (%d sources)", len(run.Evidence)), strings.TrimRight(sb.String(), "\n"))
}

// stagesInOrder returns the run's stage states sorted by execution order.
func stagesInOrder(run *types.Run) []*types.StageState {
	out := make([]*types.StageState, 0, len(run.StageState))
	for _, st := range run.StageState {
		out = append(out, st)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Order > out[j].Order; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
