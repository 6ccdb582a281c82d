// Package registry tracks the single live connection of each session.
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// Notice codes sent to connections.
const (
	NoticeNotSaved   = "not_saved"
	NoticeSuperseded = "superseded"
)

// Conn is a live client connection. Implementations must be pointer types so that
// handles compare by identity, and must be safe for concurrent use.
type Conn interface {
	ID() string
	SendSession(ctx context.Context, sessionID, token string) error
	SendHistory(ctx context.Context, msgs []domain.Message) error
	SendMessage(ctx context.Context, m domain.Message) error
	SendNotice(ctx context.Context, code, text string) error
	// Close terminates the connection with reason. Calling it more than once is harmless.
	Close(reason string) error
}

// Registry maps session ids to their live connection. Register and Unregister are
// linearizable per session id; there is no read-then-write window.
type Registry struct {
	conns sync.Map // session id -> Conn
	live  atomic.Int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register installs c for sessionID and returns whatever was registered before.
// When prev is a different handle the caller must close it.
func (r *Registry) Register(sessionID string, c Conn) (prev Conn, loaded bool) {
	old, loaded := r.conns.Swap(sessionID, c)
	if !loaded {
		r.live.Add(1)
		return nil, false
	}
	return old.(Conn), true
}

// Unregister removes the entry for sessionID only while it still holds c. A stale
// handle never removes a newer registration.
func (r *Registry) Unregister(sessionID string, c Conn) bool {
	if r.conns.CompareAndDelete(sessionID, c) {
		r.live.Add(-1)
		return true
	}
	return false
}

// Lookup returns the live connection for sessionID.
func (r *Registry) Lookup(sessionID string) (Conn, bool) {
	v, ok := r.conns.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(Conn), true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int64 {
	return r.live.Load()
}
