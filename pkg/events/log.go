package events

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RegisterLogHandler logs terminal service states and exits at info level.
func RegisterLogHandler(b *Bus) {
	b.AddHandler("devlaunch-log", TopicSession, func(msg *message.Message) error {
		defer msg.Ack()

		env, err := ParseMessage(msg)
		if err != nil {
			return err
		}
		switch env.Type {
		case TypeTransition:
			var t orchestrator.Transition
			if err := env.Decode(&t); err != nil {
				return err
			}
			if !t.To.Terminal() {
				return nil
			}
			levelFor(t.To).
				Str("service", t.Service).
				Int("pid", t.PID).
				Str("state", string(t.To)).
				Str("detail", t.Detail).
				Msg("service settled")
		case TypeServiceExit:
			var ex orchestrator.Exit
			if err := env.Decode(&ex); err != nil {
				return err
			}
			log.Warn().Str("service", ex.Service).Int("pid", ex.PID).Int("exit_code", ex.ExitCode).Msg("service exited")
		}
		return nil
	})
}

func levelFor(s orchestrator.State) *zerolog.Event {
	switch s {
	case orchestrator.Healthy, orchestrator.Cancelled:
		return log.Info()
	default:
		return log.Error()
	}
}
