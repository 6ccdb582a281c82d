package gateway

import "github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"

// Envelope types.
const (
	TypeHello         = "hello"
	TypeClientMessage = "client_message"
	TypeSession       = "session"
	TypeHistory       = "history"
	TypeServerMessage = "server_message"
	TypeNotice        = "notice"
)

// inbound is any client frame. Fields not used by Type are ignored.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Token     string `json:"token,omitempty"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
}

type sessionFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token,omitempty"`
}

type historyFrame struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
}

type messageFrame struct {
	Type string `json:"type"`
	domain.Message
}

type noticeFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Text string `json:"text"`
}
