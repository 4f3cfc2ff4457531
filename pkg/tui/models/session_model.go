package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/go-go-golems/devlaunch/pkg/tui"
	"github.com/go-go-golems/devlaunch/pkg/tui/styles"
	"github.com/go-go-golems/devlaunch/pkg/tui/widgets"
)

const maxLogLines = 200

type clockTickMsg time.Time

type serviceRow struct {
	state  orchestrator.State
	pid    int
	detail string
}

// SessionModel shows every service of one session with its live state and a
// log of transitions.
type SessionModel struct {
	width  int
	height int

	title    string
	order    []string
	services map[string]serviceRow
	log      []string

	spinner spinner.Model
	started time.Time
	now     time.Time

	finished *report.Overall
	holding  bool
	quitting bool
}

func NewSessionModel(title string, services []string) SessionModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.DefaultStyles.Waiting

	rows := make(map[string]serviceRow, len(services))
	for _, s := range services {
		rows[s] = serviceRow{state: orchestrator.Pending}
	}
	now := time.Now()
	return SessionModel{
		width:    80,
		title:    title,
		order:    append([]string{}, services...),
		services: rows,
		spinner:  sp,
		started:  now,
		now:      now,
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockTickMsg(t) })
}

func (m SessionModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, clockTick())
}

func (m SessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		return m, nil
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(v)
		return m, cmd
	case clockTickMsg:
		m.now = time.Time(v)
		return m, clockTick()
	case tui.TransitionMsg:
		t := v.Transition
		row := m.services[t.Service]
		row.state = t.To
		row.detail = t.Detail
		if t.PID > 0 {
			row.pid = t.PID
		}
		m.services[t.Service] = row
		m = m.appendLog(t.At, fmt.Sprintf("%s: %s -> %s %s", t.Service, t.From, t.To, t.Detail))
		return m, nil
	case tui.ServiceExitMsg:
		ex := v.Exit
		row := m.services[ex.Service]
		row.detail = fmt.Sprintf("exited with code %d", ex.ExitCode)
		m.services[ex.Service] = row
		m = m.appendLog(time.Now(), fmt.Sprintf("%s: pid %d exited with code %d", ex.Service, ex.PID, ex.ExitCode))
		return m, nil
	case tui.SessionFinishedMsg:
		overall := v.Finished.Overall
		m.finished = &overall
		return m, nil
	case tui.HoldMsg:
		m.holding = true
		return m, nil
	}
	return m, nil
}

func (m SessionModel) appendLog(at time.Time, line string) SessionModel {
	m.log = append(m.log, at.Format("15:04:05")+" "+strings.TrimSpace(line))
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	return m
}

// Quitting reports whether the user asked to stop the session.
func (m SessionModel) Quitting() bool { return m.quitting }

func (m SessionModel) View() string {
	theme := styles.DefaultStyles

	status, statusStyle := "starting", theme.Waiting
	if m.finished != nil {
		status = string(*m.finished)
		switch *m.finished {
		case report.Success:
			statusStyle = theme.Healthy
		case report.SessionCancelled:
			statusStyle = theme.Cancelled
		default:
			statusStyle = theme.Failed
		}
	}
	header := widgets.NewHeader(m.title).
		WithStatus(status, statusStyle).
		WithElapsed(m.now.Sub(m.started)).
		WithWidth(m.width)

	rows := make([]widgets.TableRow, 0, len(m.order))
	for _, name := range m.order {
		row := m.services[name]
		icon := ""
		if row.state == orchestrator.Starting || row.state == orchestrator.ProbingHealth {
			icon = m.spinner.View()
		}
		pid := ""
		if row.pid > 0 {
			pid = strconv.Itoa(row.pid)
		}
		rows = append(rows, widgets.ServiceRow(string(row.state), icon, name, pid, row.detail))
	}
	table := widgets.NewTable([]widgets.TableColumn{
		{Header: "SERVICE", Width: 16},
		{Header: "STATE", Width: 24},
		{Header: "PID", Width: 8},
		{Header: "DETAIL", Width: max(m.width-56, 10)},
	}).WithRows(rows)

	note := ""
	switch {
	case m.holding:
		note = "services running"
	case m.finished != nil:
		note = "session finished"
	}
	footer := widgets.NewFooter([]widgets.Keybind{{Key: "q", Label: "stop & quit"}}).
		WithNote(note).
		WithWidth(m.width)

	var b strings.Builder
	b.WriteString(header.Render())
	b.WriteString("\n")
	b.WriteString(table.Render())
	b.WriteString("\n\n")
	b.WriteString(theme.Title.Render("Events"))
	b.WriteString("\n")
	for _, line := range m.visibleLog(len(rows)) {
		b.WriteString(theme.TitleMuted.Render(line))
		b.WriteString("\n")
	}
	b.WriteString(footer.Render())
	return b.String()
}

func (m SessionModel) visibleLog(tableRows int) []string {
	// header(2) + table header(1) + blank(1) + title(1) + footer(2)
	room := 10
	if m.height > 0 {
		room = max(m.height-tableRows-7, 1)
	}
	if len(m.log) <= room {
		return m.log
	}
	return m.log[len(m.log)-room:]
}
