// Package delivery routes messages between client sessions and the operator channel.
package delivery

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/registry"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry"
	teldomain "github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry/domain"
)

// Outcome is the result of routing one message. Every persistence failure is folded into
// an outcome; none reaches the connection handler as an error.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"   // blank text
	OutcomeDuplicate Outcome = "duplicate" // redelivery of an already handled message
	OutcomeForwarded Outcome = "forwarded" // client message stored and handed to the operator channel
	OutcomeNotSaved  Outcome = "not_saved" // client message forwarded but not stored
	OutcomeDelivered Outcome = "delivered" // operator message pushed to the live connection
	OutcomeStored    Outcome = "stored"    // operator message kept for the next reconnect
	OutcomeDropped   Outcome = "dropped"   // operator message with no session, not admitted, or lost
)

const (
	defaultDedupeTTL   = 10 * time.Minute
	defaultSendTimeout = 15 * time.Second
	notSavedText       = "Your message could not be saved."
)

// Store is the persistence the router needs.
type Store interface {
	Append(ctx context.Context, sessionID string, m domain.Message) error
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	SaveSession(ctx context.Context, s *domain.Session) error
	ResolveRoute(ctx context.Context, addr domain.Address) (string, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Connections looks up the live connection of a session.
type Connections interface {
	Lookup(sessionID string) (registry.Conn, bool)
}

// Admission decides whether an inbound operator message may be routed.
type Admission interface {
	AllowInbound(ctx context.Context, in operator.Inbound) (bool, error)
}

// Config controls routing behavior.
type Config struct {
	// DefaultRoute is assigned to sessions on their first message. Zero means no operator
	// destination is configured; messages are still stored and handed to the sender.
	DefaultRoute domain.Address
	// TopicPerSession opens a new thread in DefaultRoute.Chat for each session when the
	// sender supports it.
	TopicPerSession bool
	// AckText, when set, is sent back as a system message after each client message.
	AckText string
	// NotifyOnPersistFailure sends a not_saved notice when a client message cannot be stored.
	NotifyOnPersistFailure bool
	DedupeTTL              time.Duration
	SendTimeout            time.Duration
}

// Options carries optional collaborators. Nil fields are skipped.
type Options struct {
	Admission Admission
	Events    telemetry.EventEmitter
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Router implements both delivery directions.
type Router struct {
	store     Store
	conns     Connections
	sender    operator.Sender
	topics    operator.TopicCreator
	cfg       Config
	admission Admission
	events    telemetry.EventEmitter
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
	inflight  sync.WaitGroup
}

// NewRouter returns a Router. sender may be nil, in which case nothing is forwarded.
func NewRouter(store Store, conns Connections, sender operator.Sender, cfg Config, opts Options) *Router {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	r := &Router{
		store:     store,
		conns:     conns,
		sender:    sender,
		cfg:       cfg,
		admission: opts.Admission,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "router")
	if r.now == nil {
		r.now = time.Now
	}
	if tc, ok := sender.(operator.TopicCreator); ok && cfg.TopicPerSession {
		r.topics = tc
	}
	return r
}

// FromClient handles a message typed by the client on conn. clientMsgID, when non-empty,
// makes retries of the same message a no-op.
func (r *Router) FromClient(ctx context.Context, conn registry.Conn, sessionID, text, clientMsgID string) Outcome {
	m, ok := domain.NewMessage(domain.SenderUser, text, r.now())
	if !ok {
		return r.count(ctx, domain.SenderUser, OutcomeIgnored)
	}
	if clientMsgID != "" && !r.firstSighting(ctx, "client:"+sessionID+":"+clientMsgID) {
		return r.count(ctx, domain.SenderUser, OutcomeDuplicate)
	}

	outcome := OutcomeForwarded
	if err := r.store.Append(ctx, sessionID, m); err != nil {
		outcome = OutcomeNotSaved
		r.logger.WarnContext(ctx, "client message not saved", "session_id", sessionID, "error", err)
		r.emit(ctx, teldomain.EventNotSaved, sessionID, domain.Address{}, domain.SenderUser, err.Error())
		if r.cfg.NotifyOnPersistFailure {
			if err := conn.SendNotice(ctx, registry.NoticeNotSaved, notSavedText); err != nil {
				r.logger.DebugContext(ctx, "notice not delivered", "session_id", sessionID, "error", err)
			}
		}
	}

	to := r.route(ctx, sessionID)
	r.forward(ctx, sessionID, to, m.Text)
	r.emit(ctx, teldomain.EventClientMessage, sessionID, to, domain.SenderUser, "")
	r.ack(ctx, conn, sessionID)
	return r.count(ctx, domain.SenderUser, outcome)
}

// route returns the operator destination of the session, assigning the default on first
// use. The assignment is persisted before it is used again; when that fails the message
// still goes to the default and correlation relies on the tag.
func (r *Router) route(ctx context.Context, sessionID string) domain.Address {
	sess, err := r.store.LoadSession(ctx, sessionID)
	if err != nil {
		r.logger.WarnContext(ctx, "load session for routing failed", "session_id", sessionID, "error", err)
		return r.cfg.DefaultRoute
	}
	if sess != nil && sess.HasRoute() {
		return sess.Route()
	}
	if r.cfg.DefaultRoute.IsZero() {
		return domain.Address{}
	}
	if sess == nil {
		sess = domain.NewSession(sessionID, r.now())
	}

	addr := r.cfg.DefaultRoute
	if r.topics != nil {
		topicCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		thread, err := r.topics.CreateTopic(topicCtx, addr.Chat, sessionID)
		cancel()
		if err != nil {
			// Not persisted, so the next message retries the topic.
			r.logger.WarnContext(ctx, "create topic failed; using default destination", "session_id", sessionID, "error", err)
			return addr
		}
		addr.Thread = thread
	}

	sess.AssignRoute(addr)
	sess.Touch(r.now())
	if err := r.store.SaveSession(ctx, sess); err != nil {
		r.logger.WarnContext(ctx, "route assignment not saved", "session_id", sessionID,
			"address", addr.Chat, "thread", addr.Thread, "error", err)
		return addr
	}
	r.logger.InfoContext(ctx, "route assigned", "session_id", sessionID, "address", addr.Chat, "thread", addr.Thread)
	return addr
}

// forward sends the tagged text without blocking the caller. Failures are logged only.
func (r *Router) forward(ctx context.Context, sessionID string, to domain.Address, text string) {
	if r.sender == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SendTimeout)
		defer cancel()
		if err := r.sender.Send(sendCtx, to, WithTag(sessionID, text)); err != nil {
			r.logger.ErrorContext(sendCtx, "operator send failed", "session_id", sessionID,
				"address", to.Chat, "thread", to.Thread, "error", err)
			r.metrics.SendFailure(sendCtx)
			r.emit(sendCtx, teldomain.EventSendFailed, sessionID, to, domain.SenderUser, err.Error())
		}
	}()
}

func (r *Router) ack(ctx context.Context, conn registry.Conn, sessionID string) {
	m, ok := domain.NewMessage(domain.SenderSystem, r.cfg.AckText, r.now())
	if !ok {
		return
	}
	if err := r.store.Append(ctx, sessionID, m); err != nil {
		r.logger.DebugContext(ctx, "ack not saved", "session_id", sessionID, "error", err)
	}
	if err := conn.SendMessage(ctx, m); err != nil {
		r.logger.DebugContext(ctx, "ack not delivered", "session_id", sessionID, "error", err)
	}
}

// FromOperator routes an operator message to its session: resolve, store, then push to
// the live connection if there is one.
func (r *Router) FromOperator(ctx context.Context, in operator.Inbound) Outcome {
	text := StripTags(in.Text)
	if text == "" {
		return r.count(ctx, domain.SenderAdmin, OutcomeIgnored)
	}
	if r.admission != nil {
		allowed, err := r.admission.AllowInbound(ctx, in)
		if err != nil {
			r.logger.ErrorContext(ctx, "inbound admission failed", "address", in.Address.Chat, "error", err)
			return r.count(ctx, domain.SenderAdmin, OutcomeDropped)
		}
		if !allowed {
			r.logger.InfoContext(ctx, "inbound message not admitted", "address", in.Address.Chat, "sender", in.Sender)
			return r.count(ctx, domain.SenderAdmin, OutcomeDropped)
		}
	}
	if in.UpdateID != 0 && !r.firstSighting(ctx, "operator:"+strconv.FormatInt(in.UpdateID, 10)) {
		return r.count(ctx, domain.SenderAdmin, OutcomeDuplicate)
	}

	sessionID := r.resolve(ctx, in)
	if sessionID == "" {
		r.logger.InfoContext(ctx, "operator message has no session", "address", in.Address.Chat,
			"thread", in.Address.Thread, "text", operator.Preview(text))
		r.emit(ctx, teldomain.EventUnresolved, "", in.Address, domain.SenderAdmin, "")
		return r.count(ctx, domain.SenderAdmin, OutcomeDropped)
	}

	m, _ := domain.NewMessage(domain.SenderAdmin, text, r.now())
	saved := true
	if err := r.store.Append(ctx, sessionID, m); err != nil {
		saved = false
		r.logger.WarnContext(ctx, "operator message not saved", "session_id", sessionID, "error", err)
		r.emit(ctx, teldomain.EventNotSaved, sessionID, in.Address, domain.SenderAdmin, err.Error())
	}

	outcome := OutcomeStored
	if conn, ok := r.conns.Lookup(sessionID); ok {
		if err := conn.SendMessage(ctx, m); err != nil {
			r.logger.WarnContext(ctx, "push to connection failed", "session_id", sessionID, "conn_id", conn.ID(), "error", err)
		} else {
			outcome = OutcomeDelivered
		}
	}
	if outcome == OutcomeStored && !saved {
		r.logger.ErrorContext(ctx, "operator message lost", "session_id", sessionID, "text", operator.Preview(text))
		outcome = OutcomeDropped
	}
	r.emit(ctx, teldomain.EventOperatorMessage, sessionID, in.Address, domain.SenderAdmin, string(outcome))
	return r.count(ctx, domain.SenderAdmin, outcome)
}

// resolve maps an inbound message to a session id. A tag in the quoted message is the most
// specific signal: it survives shared destinations where the reverse index only knows the
// most recent session. Then the reverse index, then a tag typed into the text itself.
func (r *Router) resolve(ctx context.Context, in operator.Inbound) string {
	if id, ok := ParseTag(in.Quoted); ok {
		return id
	}
	id, err := r.store.ResolveRoute(ctx, in.Address)
	if err != nil {
		r.logger.WarnContext(ctx, "reverse index lookup failed", "address", in.Address.Chat, "thread", in.Address.Thread, "error", err)
	}
	if id != "" {
		return id
	}
	if id, ok := ParseTag(in.Text); ok {
		return id
	}
	return ""
}

// HandleInbound adapts the router to operator.Handler.
func (r *Router) HandleInbound(ctx context.Context, in operator.Inbound) error {
	r.FromOperator(ctx, in)
	return nil
}

// Wait blocks until in-flight operator sends finish or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstSighting reports whether key is new. A store failure counts as new: a possible
// duplicate is better than a lost message.
func (r *Router) firstSighting(ctx context.Context, key string) bool {
	first, err := r.store.MarkSeen(ctx, key, r.cfg.DedupeTTL)
	if err != nil {
		r.logger.WarnContext(ctx, "dedupe check failed", "key", key, "error", err)
		return true
	}
	return first
}

func (r *Router) emit(ctx context.Context, t teldomain.EventType, sessionID string, to domain.Address, from domain.Sender, detail string) {
	if r.events == nil {
		return
	}
	ev := teldomain.NewEvent(t, sessionID)
	ev.Address, ev.Thread, ev.From, ev.Detail = to.Chat, to.Thread, string(from), detail
	telemetry.EmitAsync(r.events, ctx, ev)
}

func (r *Router) count(ctx context.Context, from domain.Sender, o Outcome) Outcome {
	r.metrics.Message(ctx, string(from), string(o))
	return o
}

var _ operator.Handler = (*Router)(nil)
