package models

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/devlaunch/pkg/events"
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/go-go-golems/devlaunch/pkg/tui"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m SessionModel, msg tea.Msg) SessionModel {
	t.Helper()
	next, _ := m.Update(msg)
	sm, ok := next.(SessionModel)
	require.True(t, ok)
	return sm
}

func TestSessionModel_TracksTransitions(t *testing.T) {
	m := NewSessionModel("devlaunch", []string{"redis", "backend"})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	require.Contains(t, view, "redis")
	require.Contains(t, view, "pending")

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m = update(t, m, tui.TransitionMsg{Transition: orchestrator.Transition{Service: "redis", From: orchestrator.Pending, To: orchestrator.Starting, At: at}})
	m = update(t, m, tui.TransitionMsg{Transition: orchestrator.Transition{Service: "redis", From: orchestrator.Starting, To: orchestrator.Healthy, PID: 4242, At: at}})
	m = update(t, m, tui.ServiceExitMsg{Exit: orchestrator.Exit{Service: "redis", PID: 4242, ExitCode: 137}})

	view = m.View()
	require.Contains(t, view, "healthy")
	require.Contains(t, view, "4242")
	require.Contains(t, view, "exited with code 137")
	require.Contains(t, view, "12:00:00 redis: starting -> healthy")

	m = update(t, m, tui.SessionFinishedMsg{Finished: events.SessionFinished{Overall: report.PartialFailure}})
	m = update(t, m, tui.HoldMsg{})
	view = m.View()
	require.Contains(t, view, "partial_failure")
	require.Contains(t, view, "services running")
}

func TestSessionModel_QuitKey(t *testing.T) {
	m := NewSessionModel("devlaunch", []string{"redis"})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.True(t, next.(SessionModel).Quitting())
}

func TestSessionModel_LogIsBounded(t *testing.T) {
	m := NewSessionModel("devlaunch", []string{"a"})
	for i := 0; i < maxLogLines+50; i++ {
		m = update(t, m, tui.TransitionMsg{Transition: orchestrator.Transition{Service: "a", From: orchestrator.Pending, To: orchestrator.Starting}})
	}
	require.Len(t, m.log, maxLogLines)
}
