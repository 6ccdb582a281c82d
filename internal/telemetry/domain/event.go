package domain

import "time"

// EventType names a relay event.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventSessionResumed  EventType = "session_resumed"
	EventSuperseded      EventType = "connection_superseded"
	EventClientMessage   EventType = "client_message"
	EventOperatorMessage EventType = "operator_message"
	EventUnresolved      EventType = "operator_message_unresolved"
	EventSendFailed      EventType = "operator_send_failed"
	EventNotSaved        EventType = "message_not_saved"
)

// Event is one relay event. It carries addressing and outcome, never message text.
type Event struct {
	Type      EventType `json:"eventType"`
	SessionID string    `json:"sessionId,omitempty"`
	Address   string    `json:"address,omitempty"`
	Thread    string    `json:"thread,omitempty"`
	From      string    `json:"from,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEvent returns an event of type t for session, stamped now.
func NewEvent(t EventType, sessionID string) *Event {
	return &Event{Type: t, SessionID: sessionID, CreatedAt: time.Now().UTC()}
}
