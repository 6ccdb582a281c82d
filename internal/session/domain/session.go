package domain

import "time"

// NoThread is the thread value of a destination that has no sub-address.
const NoThread = ""

// Address is an operator-side destination: a conversation and an optional thread within it.
type Address struct {
	Chat   string
	Thread string
}

// IsZero reports whether the address has no conversation.
func (a Address) IsZero() bool {
	return a.Chat == ""
}

// String returns "chat" or "chat/thread".
func (a Address) String() string {
	if a.Thread == NoThread {
		return a.Chat
	}
	return a.Chat + "/" + a.Thread
}

// Session is a long-lived client identity that spans many physical connections.
type Session struct {
	ID              string    `json:"sessionId"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
	ExternalAddress string    `json:"externalAddress,omitempty"` // empty until the first routing decision
	ExternalThread  string    `json:"externalThread,omitempty"`
}

// NewSession returns a session created and last seen at now.
func NewSession(id string, now time.Time) *Session {
	now = now.UTC()
	return &Session{ID: id, CreatedAt: now, LastSeenAt: now}
}

// Touch advances LastSeenAt to now. LastSeenAt never moves backwards.
func (s *Session) Touch(now time.Time) {
	now = now.UTC()
	if now.After(s.LastSeenAt) {
		s.LastSeenAt = now
	}
	if s.CreatedAt.IsZero() || s.CreatedAt.After(s.LastSeenAt) {
		s.CreatedAt = s.LastSeenAt
	}
}

// HasRoute reports whether an operator destination has been assigned.
func (s *Session) HasRoute() bool {
	return s.ExternalAddress != ""
}

// Route returns the assigned operator destination; zero if none.
func (s *Session) Route() Address {
	return Address{Chat: s.ExternalAddress, Thread: s.ExternalThread}
}

// AssignRoute records the operator destination for the session.
func (s *Session) AssignRoute(a Address) {
	s.ExternalAddress = a.Chat
	s.ExternalThread = a.Thread
}
