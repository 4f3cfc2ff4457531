package styles

import "github.com/charmbracelet/lipgloss"

// Theme holds the palette shared by the session report and the live view.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	TextDim lipgloss.Color

	Border     lipgloss.Style
	Title      lipgloss.Style
	TitleMuted lipgloss.Style
	Keybind    lipgloss.Style
	KeybindKey lipgloss.Style

	Healthy   lipgloss.Style
	Failed    lipgloss.Style
	Waiting   lipgloss.Style
	Cancelled lipgloss.Style
}

func DefaultTheme() Theme {
	primary := lipgloss.Color("#7C3AED")
	success := lipgloss.Color("#22C55E")
	warning := lipgloss.Color("#EAB308")
	errorC := lipgloss.Color("#EF4444")
	muted := lipgloss.Color("#6B7280")
	text := lipgloss.Color("#F9FAFB")
	textDim := lipgloss.Color("#9CA3AF")

	return Theme{
		Primary: primary,
		Success: success,
		Warning: warning,
		Error:   errorC,
		Muted:   muted,
		Text:    text,
		TextDim: textDim,

		Border: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		Title:      lipgloss.NewStyle().Bold(true).Foreground(text),
		TitleMuted: lipgloss.NewStyle().Foreground(textDim),
		Keybind:    lipgloss.NewStyle().Foreground(textDim),
		KeybindKey: lipgloss.NewStyle().Bold(true).Foreground(primary),

		Healthy:   lipgloss.NewStyle().Foreground(success),
		Failed:    lipgloss.NewStyle().Foreground(errorC),
		Waiting:   lipgloss.NewStyle().Foreground(muted),
		Cancelled: lipgloss.NewStyle().Foreground(warning),
	}
}

var DefaultStyles = DefaultTheme()
