// Package tui renders a running session live in the terminal.
package tui

import (
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/devlaunch/pkg/events"
)

// RegisterUIForwarder turns session events on b into messages for p.
func RegisterUIForwarder(b *events.Bus, p *tea.Program) {
	b.AddHandler("devlaunch-ui-forward", events.TopicSession, func(msg *message.Message) error {
		defer msg.Ack()

		m, err := toMsg(msg)
		if err != nil {
			return err
		}
		if m != nil {
			p.Send(m)
		}
		return nil
	})
}

func toMsg(msg *message.Message) (tea.Msg, error) {
	env, err := events.ParseMessage(msg)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case events.TypeTransition:
		var m TransitionMsg
		if err := env.Decode(&m.Transition); err != nil {
			return nil, err
		}
		return m, nil
	case events.TypeServiceExit:
		var m ServiceExitMsg
		if err := env.Decode(&m.Exit); err != nil {
			return nil, err
		}
		return m, nil
	case events.TypeSessionFinished:
		var m SessionFinishedMsg
		if err := env.Decode(&m.Finished); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, nil
	}
}
