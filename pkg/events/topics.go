package events

const TopicSession = "devlaunch.session"

const (
	TypeTransition      = "service.transition"
	TypeServiceExit     = "service.exit"
	TypeSessionFinished = "session.finished"
)
