package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pendStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	reasonStyle = lipgloss.NewStyle().Italic(true)
)

// Render produces a styled terminal summary of a run for the status
// command.
func Render(result models.PipelineResult) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("run "+result.RunID) + "\n")
	b.WriteString(labelStyle.Render("outcome: ") + styleOutcome(result.Outcome) + "\n")
	if result.Elapsed > 0 {
		b.WriteString(labelStyle.Render("elapsed: ") + result.Elapsed.Round(time.Millisecond).String() + "\n")
	}
	b.WriteString("\n")

	for _, h := range result.Handoffs {
		b.WriteString(fmt.Sprintf("  %d. %-10s %s", h.Seq, h.Source, styleStatus(h.Status)))
		if detail := handoffDetail(h); detail != "" {
			b.WriteString("  " + reasonStyle.Render(detail))
		}
		b.WriteString("\n")
	}

	if result.Reason != "" {
		b.WriteString("\n" + reasonStyle.Render(result.Reason) + "\n")
	}
	return b.String()
}

func styleOutcome(outcome models.TerminalOutcome) string {
	switch outcome {
	case models.OutcomeCompleted:
		return passStyle.Render(string(outcome))
	case "":
		return pendStyle.Render("in progress")
	default:
		return failStyle.Render(string(outcome))
	}
}

func styleStatus(status models.StageStatus) string {
	switch status {
	case models.StatusPassed:
		return passStyle.Render(string(status))
	case models.StatusFailed:
		return failStyle.Render(string(status))
	default:
		return pendStyle.Render(string(status))
	}
}

// handoffDetail picks the most useful one-line detail from a handoff's
// payload.
func handoffDetail(h models.StageHandoff) string {
	switch {
	case h.Note != "":
		return h.Note
	case h.Plan != nil:
		return fmt.Sprintf("%d steps", len(h.Plan.Steps))
	case h.Gate != nil:
		return h.Gate.Reason
	case h.Implementation != nil:
		impl := h.Implementation
		return fmt.Sprintf("applied %d, failed %d, skipped %d",
			len(impl.Applied), len(impl.Failed), len(impl.Skipped))
	default:
		return ""
	}
}
