package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/tui/styles"
)

// Render formats r for a terminal and returns the exit code the CLI should use.
func Render(r *SessionReport) (string, int) {
	theme := styles.DefaultStyles
	var b strings.Builder

	header := fmt.Sprintf("session %s: %s", shortID(r.SessionID()), r.Overall())
	b.WriteString(theme.Title.Render(header))
	b.WriteString(theme.TitleMuted.Render(fmt.Sprintf("  (%s)", r.Duration().Round(time.Millisecond))))
	b.WriteString("\n")

	width := 0
	for _, o := range r.outcomes {
		width = max(width, len(o.Service))
	}
	for _, o := range r.outcomes {
		style := theme.StateStyle(string(o.Kind))
		fmt.Fprintf(&b, "  %s %-*s  %s", style.Render(styles.StateIcon(string(o.Kind))), width, o.Service, style.Render(o.String()))
		if details := outcomeDetails(o); details != "" {
			b.WriteString(theme.TitleMuted.Render("  " + details))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%d healthy, %d failed, %d cancelled\n",
		r.Count(Healthy),
		r.Failures(),
		r.Count(Cancelled))
	return b.String(), r.ExitCode()
}

func outcomeDetails(o Outcome) string {
	var parts []string
	if o.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid %d", o.PID))
	}
	if o.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("%d probe attempts", o.Attempts))
	}
	if o.Duration > 0 {
		parts = append(parts, o.Duration.Round(time.Millisecond).String())
	}
	if o.Kind == HealthCheckTimedOut && o.Reason != "" {
		parts = append(parts, "last error: "+o.Reason)
	}
	return strings.Join(parts, ", ")
}

// RenderConfigError formats a configuration error. No report exists in that
// case because nothing was started.
func RenderConfigError(err error) (string, int) {
	theme := styles.DefaultStyles
	return theme.Failed.Render("configuration error: "+err.Error()) + "\n", ExitConfigError
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
