package tui

import (
	"github.com/go-go-golems/devlaunch/pkg/events"
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
)

type TransitionMsg struct {
	Transition orchestrator.Transition
}

type ServiceExitMsg struct {
	Exit orchestrator.Exit
}

type SessionFinishedMsg struct {
	Finished events.SessionFinished
}

// HoldMsg tells the view that the session stays up until the user quits.
type HoldMsg struct{}
