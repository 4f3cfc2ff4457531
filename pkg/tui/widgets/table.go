package widgets

import (
	"strings"

	"github.com/go-go-golems/devlaunch/pkg/tui/styles"
)

type TableColumn struct {
	Header string
	Width  int
}

// TableRow is one service line. State selects the icon and colour.
type TableRow struct {
	State string
	Icon  string
	Cells []string
}

// Table renders fixed-width columns; cells longer than their column are cut.
type Table struct {
	Columns []TableColumn
	Rows    []TableRow
	theme   styles.Theme
}

func NewTable(cols []TableColumn) Table {
	return Table{Columns: cols, theme: styles.DefaultTheme()}
}

func (t Table) WithRows(rows []TableRow) Table {
	t.Rows = rows
	return t
}

func (t Table) Render() string {
	theme := t.theme
	if len(t.Rows) == 0 {
		return theme.TitleMuted.Render("(no services)")
	}

	lines := make([]string, 0, len(t.Rows)+1)
	headers := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		headers = append(headers, cell(c.Header, c.Width))
	}
	lines = append(lines, theme.TitleMuted.Render("  "+strings.Join(headers, " ")))

	for _, row := range t.Rows {
		style := theme.StateStyle(row.State)
		icon := row.Icon
		if icon == "" {
			icon = styles.StateIcon(row.State)
		}
		parts := []string{style.Render(icon) + " "}
		for j, v := range row.Cells {
			width := 20
			if j < len(t.Columns) && t.Columns[j].Width > 0 {
				width = t.Columns[j].Width
			}
			text := cell(v, width)
			if j == 1 {
				text = style.Render(text)
			}
			parts = append(parts, text+" ")
		}
		lines = append(lines, strings.TrimRight(strings.Join(parts, ""), " "))
	}
	return strings.Join(lines, "\n")
}

func cell(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-len(r))
}

// ServiceRow builds the standard row: name, state, pid, detail.
func ServiceRow(state, icon, name, pid, detail string) TableRow {
	return TableRow{State: state, Icon: icon, Cells: []string{name, state, pid, detail}}
}
