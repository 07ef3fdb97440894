// Package render formats plans, progress snapshots and routing results for
// the terminal.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/conductor/internal/escalation"
	"github.com/Iron-Ham/conductor/internal/ledger"
	"github.com/Iron-Ham/conductor/internal/router"
	"github.com/Iron-Ham/conductor/internal/step"
)

var (
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	SuccessColor = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	InfoColor    = lipgloss.Color("#60A5FA") // Blue
	BorderColor  = lipgloss.Color("#6B7280")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor)

	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	Warning = lipgloss.NewStyle().Foreground(WarningColor)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	Label = lipgloss.NewStyle().
		Bold(true).
		Width(12)
)

// StatusColor returns the color for a step status.
func StatusColor(s step.Status) lipgloss.Color {
	switch s {
	case step.StatusPending:
		return MutedColor
	case step.StatusInProgress:
		return InfoColor
	case step.StatusCompleted:
		return SuccessColor
	case step.StatusBlocked:
		return WarningColor
	case step.StatusFailed, step.StatusTimedOut:
		return ErrorColor
	default:
		return MutedColor
	}
}

// StatusIcon returns an icon for a step status.
func StatusIcon(s step.Status) string {
	switch s {
	case step.StatusPending:
		return "○"
	case step.StatusInProgress:
		return "●"
	case step.StatusCompleted:
		return "✓"
	case step.StatusFailed:
		return "✗"
	case step.StatusBlocked:
		return "■"
	case step.StatusCancelled:
		return "⊘"
	case step.StatusTimedOut:
		return "⏰"
	default:
		return "●"
	}
}

// Plan renders the plan's steps with their status, worker and dependencies,
// followed by the snapshot's progress line and bottlenecks.
func Plan(plan *step.TaskPlan, snap ledger.Snapshot) string {
	var sb strings.Builder
	sb.WriteString(Title.Render(plan.Task))
	sb.WriteString("\n")
	sb.WriteString(Muted.Render("plan " + plan.ID))
	sb.WriteString("\n\n")

	for _, s := range plan.Steps {
		sb.WriteString(Step(s))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(Progress(snap))

	if len(snap.Bottlenecks) > 0 {
		sb.WriteString("\n")
		for _, b := range snap.Bottlenecks {
			line := fmt.Sprintf("bottleneck %s (%s): %s waited, %s expected",
				b.StepID, b.Worker, round(b.Waited), round(b.Expected))
			sb.WriteString(Warning.Render(line))
			sb.WriteString("\n")
		}
	}
	return Box.Render(strings.TrimRight(sb.String(), "\n"))
}

// Step renders one step line.
func Step(s step.ExecutionStep) string {
	status := lipgloss.NewStyle().Foreground(StatusColor(s.Status))
	line := fmt.Sprintf("%s %-12s %s %s", status.Render(StatusIcon(s.Status)), s.ID, Muted.Render("["+s.Worker+"]"), Truncate(s.Task, TaskWidth))
	if len(s.Dependencies) > 0 {
		line += Muted.Render(" <- " + strings.Join(s.Dependencies, ", "))
	}
	if s.Stub {
		line += Muted.Render(" (stub)")
	}
	if s.RetryCount > 0 {
		line += Muted.Render(fmt.Sprintf(" retries=%d", s.RetryCount))
	}
	if s.Error != "" && s.Status.IsUnsuccessful() {
		line += " " + lipgloss.NewStyle().Foreground(ErrorColor).Render(Truncate(s.Error, ErrorWidth))
	}
	return line
}

// Progress renders the snapshot's summary line.
func Progress(snap ledger.Snapshot) string {
	style := lipgloss.NewStyle().Bold(true)
	switch snap.Phase {
	case ledger.PhaseComplete:
		style = style.Foreground(SuccessColor)
	case ledger.PhaseFailed, ledger.PhaseBlocked:
		style = style.Foreground(ErrorColor)
	case ledger.PhaseCancelled:
		style = style.Foreground(WarningColor)
	default:
		style = style.Foreground(InfoColor)
	}
	return style.Render(ledger.Summary(snap))
}

// Route renders a routing result with its scored candidates.
func Route(res router.Result) string {
	var sb strings.Builder
	sb.WriteString(Label.Render("worker") + res.Worker + "\n")
	sb.WriteString(Label.Render("decision") + string(res.Decision) + "\n")
	sb.WriteString(Label.Render("score") + fmt.Sprintf("%.2f", res.Score) + "\n")
	if res.Reason != "" {
		sb.WriteString(Label.Render("reason") + res.Reason + "\n")
	}
	for _, c := range res.Candidates {
		line := fmt.Sprintf("  %-12s %.2f", c.Worker, c.Score)
		if len(c.Verbs) > 0 {
			line += " verbs=" + strings.Join(c.Verbs, ",")
		}
		if len(c.Nouns) > 0 {
			line += " nouns=" + strings.Join(c.Nouns, ",")
		}
		sb.WriteString(Muted.Render(line) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Escalations renders escalation transitions, one per line. It returns an
// empty string when there are none.
func Escalations(transitions []escalation.Transition) string {
	if len(transitions) == 0 {
		return ""
	}
	lines := make([]string, 0, len(transitions)+1)
	lines = append(lines, Title.Render("escalations"))
	for _, tr := range transitions {
		line := fmt.Sprintf("%s: %s", tr.Level, tr.Reason)
		if tr.SuggestedWorker != "" {
			line += fmt.Sprintf(" -> %s", tr.SuggestedWorker)
		}
		style := Warning
		if tr.Reset {
			style = Muted
		}
		lines = append(lines, style.Render(line))
	}
	return strings.Join(lines, "\n")
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
