package events

import (
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/rs/zerolog/log"
)

// SessionFinished is the payload of TypeSessionFinished.
type SessionFinished struct {
	SessionID string           `json:"session_id"`
	Overall   report.Overall   `json:"overall"`
	ExitCode  int              `json:"exit_code"`
	Outcomes  []report.Outcome `json:"outcomes"`
}

// TransitionObserver publishes every transition to TopicSession. Publish
// failures are logged and otherwise ignored.
func TransitionObserver(b *Bus) orchestrator.Observer {
	return func(t orchestrator.Transition) {
		publish(b, TypeTransition, t)
	}
}

func PublishServiceExit(b *Bus, ex orchestrator.Exit) {
	publish(b, TypeServiceExit, ex)
}

func PublishSessionFinished(b *Bus, r *report.SessionReport) {
	publish(b, TypeSessionFinished, SessionFinished{
		SessionID: r.SessionID(),
		Overall:   r.Overall(),
		ExitCode:  r.ExitCode(),
		Outcomes:  r.Outcomes(),
	})
}

func publish(b *Bus, typ string, payload any) {
	env, err := NewEnvelope(typ, payload)
	if err == nil {
		err = b.Publish(TopicSession, env)
	}
	if err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("publish session event")
	}
}
