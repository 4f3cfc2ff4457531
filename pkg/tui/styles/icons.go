package styles

import "github.com/charmbracelet/lipgloss"

const (
	IconSuccess   = "✓"
	IconError     = "✗"
	IconWarning   = "⚠"
	IconRunning   = "▶"
	IconPending   = "○"
	IconSkipped   = "⊘"
	IconCancelled = "■"
)

// StateIcon maps a service state or outcome name to an icon.
// Unknown names render as pending.
func StateIcon(name string) string {
	switch name {
	case "healthy":
		return IconSuccess
	case "failed", "failed_to_start", "health_check_timed_out":
		return IconError
	case "dependency_failed":
		return IconSkipped
	case "cancelled":
		return IconCancelled
	case "starting", "probing_health":
		return IconRunning
	default:
		return IconPending
	}
}

// StateStyle picks the theme style that matches StateIcon.
func (t Theme) StateStyle(name string) lipgloss.Style {
	switch StateIcon(name) {
	case IconSuccess:
		return t.Healthy
	case IconError, IconSkipped:
		return t.Failed
	case IconCancelled:
		return t.Cancelled
	default:
		return t.Waiting
	}
}
