package events

// Topic constants for events emitted by ordering sessions.
const (
	TopicSessionStarted = "session.started"
	TopicSessionEnded   = "session.ended"
	TopicWrapAdded      = "wrap.added"
	TopicWrapRemoved    = "wrap.removed"
	TopicOrderSubmitted = "order.submitted"
)
