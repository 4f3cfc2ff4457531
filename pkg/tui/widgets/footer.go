package widgets

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/devlaunch/pkg/tui/styles"
)

type Keybind struct {
	Key   string
	Label string
}

// Footer renders a separator and a line of keybinding hints.
type Footer struct {
	Keybinds []Keybind
	Note     string
	Width    int
	theme    styles.Theme
}

func NewFooter(keybinds []Keybind) Footer {
	return Footer{Keybinds: keybinds, theme: styles.DefaultTheme()}
}

func (f Footer) WithNote(note string) Footer {
	f.Note = note
	return f
}

func (f Footer) WithWidth(w int) Footer {
	f.Width = w
	return f
}

func (f Footer) Render() string {
	line := RenderKeybinds(f.Keybinds, f.theme)
	if f.Note != "" {
		line = lipgloss.JoinHorizontal(lipgloss.Center, f.theme.TitleMuted.Render(f.Note+"  "), line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, separator(f.Width, f.theme), line)
}

func RenderKeybinds(keybinds []Keybind, theme styles.Theme) string {
	parts := make([]string, 0, len(keybinds)*2)
	for i, kb := range keybinds {
		if i > 0 {
			parts = append(parts, " ")
		}
		parts = append(parts, theme.KeybindKey.Render("["+kb.Key+"]"))
		parts = append(parts, theme.Keybind.Render(" "+kb.Label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, parts...)
}
