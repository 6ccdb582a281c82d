package telegram

import (
	"strconv"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// Subset of the Bot API objects the bridge reads.

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username,omitempty"`
}

type Message struct {
	MessageID       int64    `json:"message_id"`
	MessageThreadID int64    `json:"message_thread_id,omitempty"`
	IsTopicMessage  bool     `json:"is_topic_message,omitempty"`
	From            *User    `json:"from,omitempty"`
	Chat            Chat     `json:"chat"`
	Text            string   `json:"text,omitempty"`
	Caption         string   `json:"caption,omitempty"`
	ReplyToMessage  *Message `json:"reply_to_message,omitempty"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type ForumTopic struct {
	MessageThreadID int64  `json:"message_thread_id"`
	Name            string `json:"name"`
}

// Inbound converts an update to an operator message. ok is false for updates that
// carry no text, and for messages written by bots (including the bridge itself).
func (u Update) Inbound() (in operator.Inbound, ok bool) {
	m := u.Message
	if m == nil {
		return operator.Inbound{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" || (m.From != nil && m.From.IsBot) {
		return operator.Inbound{}, false
	}
	in = operator.Inbound{
		Address:  domain.Address{Chat: strconv.FormatInt(m.Chat.ID, 10)},
		Text:     text,
		UpdateID: u.UpdateID,
	}
	if m.IsTopicMessage && m.MessageThreadID != 0 {
		in.Address.Thread = strconv.FormatInt(m.MessageThreadID, 10)
	}
	if m.From != nil {
		in.Sender = strconv.FormatInt(m.From.ID, 10)
	}
	if r := m.ReplyToMessage; r != nil {
		in.Quoted = r.Text
		if in.Quoted == "" {
			in.Quoted = r.Caption
		}
	}
	return in, true
}
