// Package registrytest provides a recording registry.Conn for tests.
package registrytest

import (
	"context"
	"errors"
	"sync"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/registry"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// ErrClosed is returned by sends on a closed Conn.
var ErrClosed = errors.New("connection closed")

// Notice is a recorded notice.
type Notice struct {
	Code, Text string
}

// Conn records everything sent to it.
type Conn struct {
	id string

	mu          sync.Mutex
	sessions    []string
	tokens      []string
	histories   [][]domain.Message
	messages    []domain.Message
	notices     []Notice
	closed      bool
	closeReason string
	// SendErr, when set, fails every send.
	SendErr error
}

// NewConn returns an open Conn with id.
func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) check() error {
	if c.closed {
		return ErrClosed
	}
	return c.SendErr
}

func (c *Conn) SendSession(_ context.Context, sessionID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	c.sessions = append(c.sessions, sessionID)
	c.tokens = append(c.tokens, token)
	return nil
}

func (c *Conn) SendHistory(_ context.Context, msgs []domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	c.histories = append(c.histories, append([]domain.Message(nil), msgs...))
	return nil
}

func (c *Conn) SendMessage(_ context.Context, m domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	c.messages = append(c.messages, m)
	return nil
}

func (c *Conn) SendNotice(_ context.Context, code, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	c.notices = append(c.notices, Notice{Code: code, Text: text})
	return nil
}

func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeReason = reason
	}
	return nil
}

// Sessions returns the session ids announced to the connection.
func (c *Conn) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sessions...)
}

// Tokens returns the tokens sent with each session announcement.
func (c *Conn) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

func (c *Conn) Histories() [][]domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]domain.Message(nil), c.histories...)
}

func (c *Conn) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.messages...)
}

func (c *Conn) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// Closed reports whether Close was called and with what reason.
func (c *Conn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

var _ registry.Conn = (*Conn)(nil)
