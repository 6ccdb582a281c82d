package repository

import (
	"context"
	"sync"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

type historyEntry struct {
	records   [][]byte
	expiresAt time.Time
}

type sessionEntry struct {
	session   domain.Session
	expiresAt time.Time
}

type routeEntry struct {
	sessionID string
	expiresAt time.Time
}

// MemoryRepository is an in-process Repository. Records expire like the Redis backend
// but nothing survives a restart; use it for development and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	ttl      time.Duration
	history  map[string]*historyEntry
	sessions map[string]sessionEntry
	routes   map[domain.Address]routeEntry
	seen     map[string]time.Time
	nowF     func() time.Time
}

// NewMemoryRepository returns an empty in-memory repository whose history, sessions and
// routes expire ttl after their last write.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{
		ttl:      retention(ttl),
		history:  make(map[string]*historyEntry),
		sessions: make(map[string]sessionEntry),
		routes:   make(map[domain.Address]routeEntry),
		seen:     make(map[string]time.Time),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Append stores the encoded message so ReadAll exercises the same decode path as the other backends.
func (r *MemoryRepository) Append(ctx context.Context, sessionID string, m domain.Message) error {
	raw, err := domain.EncodeMessage(m)
	if err != nil {
		return err
	}
	return r.appendRaw(sessionID, raw)
}

func (r *MemoryRepository) appendRaw(sessionID string, raw []byte) error {
	now := r.nowF()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.history[sessionID]
	if !ok || !e.expiresAt.After(now) {
		e = &historyEntry{}
		r.history[sessionID] = e
	}
	e.records = append(e.records, raw)
	e.expiresAt = now.Add(r.ttl)
	return nil
}

func (r *MemoryRepository) ReadAll(ctx context.Context, sessionID string) ([]domain.Message, int, error) {
	now := r.nowF()
	r.mu.RLock()
	e, ok := r.history[sessionID]
	var records [][]byte
	if ok && e.expiresAt.After(now) {
		records = append(records, e.records...)
	}
	r.mu.RUnlock()
	msgs, skipped := decodeAll(records)
	return msgs, skipped, nil
}

func (r *MemoryRepository) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || !e.expiresAt.After(r.nowF()) {
		return nil, nil
	}
	s := e.session
	return &s, nil
}

func (r *MemoryRepository) SaveSession(ctx context.Context, s *domain.Session) error {
	now := r.nowF()
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := *s
	if e, ok := r.sessions[s.ID]; ok && e.expiresAt.After(now) {
		merged = mergeSession(e.session, *s)
	}
	r.sessions[s.ID] = sessionEntry{session: merged, expiresAt: now.Add(r.ttl)}
	return nil
}

// mergeSession applies an incoming save on top of the stored record.
func mergeSession(stored, in domain.Session) domain.Session {
	out := in
	if !stored.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || stored.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = stored.CreatedAt
	}
	if stored.LastSeenAt.After(out.LastSeenAt) {
		out.LastSeenAt = stored.LastSeenAt
	}
	if !in.HasRoute() {
		out.AssignRoute(stored.Route())
	}
	return out
}

func (r *MemoryRepository) PutRoute(ctx context.Context, addr domain.Address, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[addr] = routeEntry{sessionID: sessionID, expiresAt: r.nowF().Add(r.ttl)}
	return nil
}

func (r *MemoryRepository) ResolveRoute(ctx context.Context, addr domain.Address) (string, error) {
	r.mu.RLock()
	e, ok := r.routes[addr]
	r.mu.RUnlock()
	if !ok || !e.expiresAt.After(r.nowF()) {
		return "", nil
	}
	return e.sessionID, nil
}

func (r *MemoryRepository) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := r.nowF()
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.seen[key]; ok && exp.After(now) {
		return false, nil
	}
	r.seen[key] = now.Add(ttl)
	return true, nil
}

// Purge drops expired entries. The other methods already ignore them; Purge only bounds memory.
func (r *MemoryRepository) Purge(ctx context.Context) error {
	now := r.nowF()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.history {
		if !e.expiresAt.After(now) {
			delete(r.history, k)
		}
	}
	for k, e := range r.sessions {
		if !e.expiresAt.After(now) {
			delete(r.sessions, k)
		}
	}
	for k, e := range r.routes {
		if !e.expiresAt.After(now) {
			delete(r.routes, k)
		}
	}
	for k, exp := range r.seen {
		if !exp.After(now) {
			delete(r.seen, k)
		}
	}
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

// decodeAll decodes stored records in order, skipping the ones that fail to parse.
func decodeAll(records [][]byte) ([]domain.Message, int) {
	msgs := make([]domain.Message, 0, len(records))
	skipped := 0
	for _, raw := range records {
		m, err := domain.DecodeMessage(raw)
		if err != nil {
			skipped++
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, skipped
}
