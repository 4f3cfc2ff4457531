package widgets

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/devlaunch/pkg/tui/styles"
)

// Header is the title bar: session title and status on the left, elapsed
// time on the right, followed by a separator line.
type Header struct {
	Title       string
	Status      string
	StatusStyle lipgloss.Style
	Elapsed     time.Duration
	Width       int
	theme       styles.Theme
}

func NewHeader(title string) Header {
	theme := styles.DefaultTheme()
	return Header{Title: title, StatusStyle: theme.Waiting, theme: theme}
}

func (h Header) WithStatus(status string, style lipgloss.Style) Header {
	h.Status = status
	h.StatusStyle = style
	return h
}

func (h Header) WithElapsed(d time.Duration) Header {
	h.Elapsed = d
	return h
}

func (h Header) WithWidth(w int) Header {
	h.Width = w
	return h
}

func (h Header) Render() string {
	theme := h.theme
	left := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.Text).
		Background(theme.Primary).
		Padding(0, 1).
		Render(h.Title)
	if h.Status != "" {
		left = lipgloss.JoinHorizontal(lipgloss.Center, left, "  ", h.StatusStyle.Render(h.Status))
	}

	right := ""
	if h.Elapsed > 0 {
		right = theme.TitleMuted.Render(formatDuration(h.Elapsed))
	}

	spacing := max(h.Width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	line := left + strings.Repeat(" ", spacing) + right
	return lipgloss.JoinVertical(lipgloss.Left, line, separator(h.Width, theme))
}

func separator(width int, theme styles.Theme) string {
	if width <= 0 {
		width = 80
	}
	return lipgloss.NewStyle().Foreground(theme.Muted).Render(strings.Repeat("━", width))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
