// Package operator defines the boundary to the human operator's messaging channel.
package operator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// ErrNotConfigured is returned by senders that have no credentials.
var ErrNotConfigured = errors.New("operator channel not configured")

// Sender delivers text to an operator destination. Delivery is best-effort; callers log
// failures and never surface them to clients.
type Sender interface {
	Send(ctx context.Context, to domain.Address, text string) error
}

// TopicCreator is implemented by channels that can open a sub-thread per session.
type TopicCreator interface {
	CreateTopic(ctx context.Context, chat, name string) (thread string, err error)
}

// Inbound is one operator message received from the channel.
type Inbound struct {
	Address domain.Address
	Text    string
	// Quoted is the text of the message the operator replied to, if any.
	Quoted string
	// Sender is the channel's identifier of the author, used by admission policy.
	Sender string
	// UpdateID is the channel's delivery id, used to drop redeliveries. Zero when unknown.
	UpdateID int64
}

// Handler consumes inbound operator messages.
type Handler interface {
	HandleInbound(ctx context.Context, in Inbound) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in Inbound) error

func (f HandlerFunc) HandleInbound(ctx context.Context, in Inbound) error { return f(ctx, in) }

// LogSender is the Sender used when no channel is configured: it only logs, so the
// bridge keeps working as a chat log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to domain.Address, text string) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "operator channel disabled; message kept in history only",
		"address", to.Chat, "thread", to.Thread, "text", Preview(text))
	return nil
}

const previewRunes = 80

// Preview truncates text for logging.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "…"
}
