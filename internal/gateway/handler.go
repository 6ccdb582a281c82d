// Package gateway serves the client websocket protocol: it binds each connection to a
// session and feeds client frames to the delivery router.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/delivery"
	identity "github.com/rouyesh1998/rouyeshno-bridge/internal/identity/service"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/registry"
)

// SessionHeader carries a session claim for clients that cannot set query parameters.
const SessionHeader = "X-Session-Id"

const (
	defaultReadLimit    = 64 << 10
	defaultWriteWait    = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 25 * time.Second
)

// Resolver binds connections to sessions.
type Resolver interface {
	Resolve(ctx context.Context, conn registry.Conn, claim identity.Claim) (string, error)
	Reclaim(ctx context.Context, conn registry.Conn, current string, claim identity.Claim) (string, error)
	Release(sessionID string, conn registry.Conn)
}

// Router accepts client messages.
type Router interface {
	FromClient(ctx context.Context, conn registry.Conn, sessionID, text, clientMsgID string) delivery.Outcome
}

// Options tunes the websocket transport. Zero fields take defaults.
type Options struct {
	// AllowedOrigins lists accepted Origin headers; empty or "*" accepts any.
	AllowedOrigins []string
	ReadLimit      int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	Logger         *slog.Logger
}

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	resolver Resolver
	router   Router
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger
}

// NewHandler returns a Handler.
func NewHandler(resolver Resolver, router Router, opts Options) *Handler {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		resolver: resolver,
		router:   router,
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
		logger:   logger.With("component", "gateway"),
	}
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// claimFrom reads the handshake claim: query sessionId first, then the X-Session-Id header.
func claimFrom(r *http.Request) identity.Claim {
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("sessionId"))
	if id == "" {
		id = strings.TrimSpace(r.Header.Get(SessionHeader))
	}
	return identity.Claim{SessionID: id, Token: q.Get("token")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claim := claimFrom(r)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	conn := newConn(uuid.NewString(), ws, h.opts.WriteWait)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws.SetReadLimit(h.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	sessionID, err := h.resolver.Resolve(ctx, conn, claim)
	if err != nil {
		h.logger.InfoContext(ctx, "session bind failed", "conn_id", conn.ID(), "error", err)
		_ = conn.Close("bind failed")
		return
	}
	h.logger.InfoContext(ctx, "client connected", "session_id", sessionID, "conn_id", conn.ID())
	go h.keepalive(conn)

	defer func() {
		h.resolver.Release(sessionID, conn)
		_ = conn.Close("bye")
		h.logger.InfoContext(ctx, "client disconnected", "session_id", sessionID, "conn_id", conn.ID())
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.logger.DebugContext(ctx, "client read ended", "conn_id", conn.ID(), "error", err)
			return
		}
		// Any frame proves liveness.
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			h.logger.WarnContext(ctx, "invalid frame from client", "conn_id", conn.ID(), "error", err)
			continue
		}
		switch in.Type {
		case TypeHello:
			next, err := h.resolver.Reclaim(ctx, conn, sessionID, identity.Claim{SessionID: in.SessionID, Token: in.Token})
			if err != nil {
				h.logger.InfoContext(ctx, "late claim failed", "session_id", sessionID, "conn_id", conn.ID(), "error", err)
				return
			}
			sessionID = next
		case TypeClientMessage:
			outcome := h.router.FromClient(ctx, conn, sessionID, in.Text, in.ID)
			h.logger.DebugContext(ctx, "client message", "session_id", sessionID, "outcome", string(outcome),
				"preview", operator.Preview(in.Text))
		default:
			h.logger.DebugContext(ctx, "unknown frame type", "conn_id", conn.ID(), "type", in.Type)
		}
	}
}

// keepalive pings until the connection closes. A failed ping closes the socket so the
// read loop returns.
func (h *Handler) keepalive(conn *Conn) {
	t := time.NewTicker(h.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-t.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteWait)); err != nil {
				_ = conn.Close("ping failed")
				return
			}
		}
	}
}
