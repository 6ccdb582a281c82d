// Package domain holds the session, message and address types shared by the store,
// the identity resolver and the delivery router.
package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAdmin  Sender = "admin"
	SenderSystem Sender = "system"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAdmin, SenderSystem:
		return true
	}
	return false
}

// ErrMalformedMessage is returned by DecodeMessage for records that cannot be replayed.
var ErrMalformedMessage = errors.New("malformed message record")

// Message is one entry of a session's history. Messages are append-only and
// replayed in arrival order, not timestamp order.
type Message struct {
	From      Sender `json:"from"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"` // milliseconds since epoch
}

// NewMessage trims text and stamps it with now. ok is false when nothing is left after trimming.
func NewMessage(from Sender, text string, now time.Time) (m Message, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}
	return Message{From: from, Text: text, Timestamp: now.UnixMilli()}, true
}

// Valid reports whether the message has a known sender and non-empty text.
func (m Message) Valid() bool {
	return m.From.Valid() && strings.TrimSpace(m.Text) != ""
}

// EncodeMessage serializes m in the stored history layout {"from","text","ts"}.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a stored history record. It returns ErrMalformedMessage for
// unparseable JSON and for records that fail Valid.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, ErrMalformedMessage
	}
	if !m.Valid() {
		return Message{}, ErrMalformedMessage
	}
	return m, nil
}
