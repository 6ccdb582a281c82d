package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/registry"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// CloseSuperseded is the close code sent to a connection replaced by a newer one for the
// same session. Clients should not reconnect automatically on it.
const CloseSuperseded = 4000

// ErrConnClosed is returned by sends after Close.
var ErrConnClosed = errors.New("gateway: connection closed")

const supersededText = "This chat was opened in another window."

// Conn is a registry.Conn over a websocket. Sends are serialized; Close is safe to call
// concurrently with them and from any goroutine.
type Conn struct {
	id        string
	ws        *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, ws *websocket.Conn, writeWait time.Duration) *Conn {
	return &Conn{id: id, ws: ws, writeWait: writeWait, done: make(chan struct{})}
}

func (c *Conn) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) write(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) SendSession(ctx context.Context, sessionID, token string) error {
	return c.write(ctx, sessionFrame{Type: TypeSession, SessionID: sessionID, Token: token})
}

func (c *Conn) SendHistory(ctx context.Context, msgs []domain.Message) error {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.write(ctx, historyFrame{Type: TypeHistory, Messages: msgs})
}

func (c *Conn) SendMessage(ctx context.Context, m domain.Message) error {
	return c.write(ctx, messageFrame{Type: TypeServerMessage, Message: m})
}

func (c *Conn) SendNotice(ctx context.Context, code, text string) error {
	return c.write(ctx, noticeFrame{Type: TypeNotice, Code: code, Text: text})
}

// Close notifies the peer and closes the socket. A superseded connection gets a notice and
// close code CloseSuperseded; any other reason closes normally.
func (c *Conn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		code := websocket.CloseNormalClosure
		if reason == registry.NoticeSuperseded {
			code = CloseSuperseded
			_ = c.SendNotice(context.Background(), registry.NoticeSuperseded, supersededText)
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
		err = c.ws.Close()
		close(c.done)
	})
	return err
}
