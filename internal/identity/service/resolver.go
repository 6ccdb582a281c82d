// Package service binds connections to canonical session identities.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/registry"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry"
	teldomain "github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry/domain"
)

// MaxSessionIDLen bounds claimed identifiers; longer claims are replaced by a fresh id.
const MaxSessionIDLen = 128

// claimPattern is the id charset that survives the operator tag round trip.
var claimPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Claim is what a connection presents about its identity.
type Claim struct {
	SessionID string
	// Token proves ownership of SessionID when session tokens are enabled.
	Token string
}

// Store is the session persistence the resolver needs.
type Store interface {
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error
	ReadAll(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// Registry tracks the live connection of each session.
type Registry interface {
	Register(sessionID string, c registry.Conn) (prev registry.Conn, loaded bool)
	Unregister(sessionID string, c registry.Conn) bool
}

// Tokens issues and verifies signed session tokens.
type Tokens interface {
	Issue(sessionID string) (string, time.Time, error)
	Verify(token, sessionID string) error
}

// Resolver reconciles claimed or absent identities into sessions bound to connections.
type Resolver struct {
	store   Store
	conns   Registry
	tokens  Tokens
	events  telemetry.EventEmitter
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewResolver returns a Resolver. tokens may be nil, in which case claims are trusted as given.
func NewResolver(store Store, conns Registry, tokens Tokens, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		conns:  conns,
		tokens: tokens,
		logger: logger.With("component", "resolver"),
		now:    time.Now,
	}
}

// WithTelemetry attaches relay events and metrics.
func (r *Resolver) WithTelemetry(events telemetry.EventEmitter, metrics *telemetry.Metrics) *Resolver {
	r.events = events
	r.metrics = metrics
	return r
}

// NewSessionID returns "s-<unix ms>-<8 hex>".
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("s-%d-%s", now.UnixMilli(), suffix)
}

// accept returns the claimed id when it may be used verbatim.
func (r *Resolver) accept(ctx context.Context, c Claim) (string, bool) {
	id := strings.TrimSpace(c.SessionID)
	if id == "" || len(id) > MaxSessionIDLen {
		return "", false
	}
	if !claimPattern.MatchString(id) {
		r.logger.InfoContext(ctx, "session claim has unsupported characters; issuing a new session", "claimed_id", id)
		return "", false
	}
	if r.tokens != nil {
		if err := r.tokens.Verify(c.Token, id); err != nil {
			r.logger.InfoContext(ctx, "session claim rejected; issuing a new session", "claimed_id", id, "error", err)
			return "", false
		}
	}
	return id, true
}

// Resolve binds conn to a session: the claimed one when acceptable, a fresh one otherwise.
// It loads or creates the session record, registers conn (closing any connection it
// supersedes), then sends the session id and the full history. The returned error is
// only for sends that failed on conn; store failures degrade to empty history.
func (r *Resolver) Resolve(ctx context.Context, conn registry.Conn, claim Claim) (string, error) {
	now := r.now()
	id, claimed := r.accept(ctx, claim)
	if !claimed {
		id = NewSessionID(now)
	}

	sess, err := r.store.LoadSession(ctx, id)
	if err != nil {
		r.logger.WarnContext(ctx, "load session failed; continuing without record", "session_id", id, "error", err)
	}
	event := teldomain.EventSessionResumed
	if sess == nil {
		sess = domain.NewSession(id, now)
		event = teldomain.EventSessionStarted
	}
	sess.Touch(now)
	if err := r.store.SaveSession(ctx, sess); err != nil {
		r.logger.WarnContext(ctx, "save session failed", "session_id", id, "error", err)
	}

	if prev, loaded := r.conns.Register(id, conn); loaded && prev != conn {
		r.logger.InfoContext(ctx, "connection superseded", "session_id", id, "conn_id", prev.ID(), "new_conn_id", conn.ID())
		_ = prev.Close(registry.NoticeSuperseded)
		r.metrics.Superseded(ctx)
		r.emit(ctx, teldomain.EventSuperseded, id, prev.ID())
	}
	r.emit(ctx, event, id, conn.ID())

	if err := r.announce(ctx, conn, id); err != nil {
		r.conns.Unregister(id, conn)
		return "", err
	}
	r.logger.InfoContext(ctx, "session bound", "session_id", id, "conn_id", conn.ID(), "claimed", claimed)
	return id, nil
}

// announce sends the session envelope followed by the history.
func (r *Resolver) announce(ctx context.Context, conn registry.Conn, id string) error {
	var token string
	if r.tokens != nil {
		t, _, err := r.tokens.Issue(id)
		if err != nil {
			r.logger.ErrorContext(ctx, "issue session token failed", "session_id", id, "error", err)
		}
		token = t
	}
	if err := conn.SendSession(ctx, id, token); err != nil {
		return fmt.Errorf("send session: %w", err)
	}
	history, err := r.store.ReadAll(ctx, id)
	if err != nil {
		r.logger.WarnContext(ctx, "read history failed; sending empty history", "session_id", id, "error", err)
	}
	if err := conn.SendHistory(ctx, history); err != nil {
		return fmt.Errorf("send history: %w", err)
	}
	return nil
}

// Reclaim handles a claim made after the connection was bound to current. The same or an
// empty id re-sends session and history; a different id moves the connection to it.
func (r *Resolver) Reclaim(ctx context.Context, conn registry.Conn, current string, claim Claim) (string, error) {
	id := strings.TrimSpace(claim.SessionID)
	if id == "" || id == current {
		if err := r.announce(ctx, conn, current); err != nil {
			return current, err
		}
		return current, nil
	}
	r.Release(current, conn)
	r.logger.InfoContext(ctx, "late session claim", "from_session_id", current, "to_session_id", id, "conn_id", conn.ID())
	return r.Resolve(ctx, conn, claim)
}

// Release unregisters conn from sessionID unless a newer connection already replaced it.
func (r *Resolver) Release(sessionID string, conn registry.Conn) {
	if sessionID == "" {
		return
	}
	r.conns.Unregister(sessionID, conn)
}

func (r *Resolver) emit(ctx context.Context, t teldomain.EventType, sessionID, detail string) {
	if r.events == nil {
		return
	}
	ev := teldomain.NewEvent(t, sessionID)
	ev.Detail = detail
	telemetry.EmitAsync(r.events, ctx, ev)
}
