// Package service wraps a session repository with bounded call timeouts and the
// store-level error taxonomy used by the resolver and the delivery router.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/repository"
)

// ErrStoreUnavailable is returned for every backend failure, including timeouts.
// Callers decide whether to degrade or surface a notice.
var ErrStoreUnavailable = errors.New("session store unavailable")

// DefaultTimeout bounds each repository call when NewStore is given a non-positive timeout.
const DefaultTimeout = 3 * time.Second

// Store is the persistence facade for sessions, history, the reverse index and dedupe markers.
type Store struct {
	repo    repository.Repository
	timeout time.Duration

	// OnMalformed, if set, is called with the number of records ReadAll skipped.
	OnMalformed func(sessionID string, skipped int)
}

// NewStore returns a Store over repo.
func NewStore(repo repository.Repository, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{repo: repo, timeout: timeout}
}

func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return nil
}

// Append adds m to the session's history and slides the retention window.
func (s *Store) Append(ctx context.Context, sessionID string, m domain.Message) error {
	if !m.Valid() {
		return domain.ErrMalformedMessage
	}
	return s.call(ctx, "append", func(ctx context.Context) error {
		return s.repo.Append(ctx, sessionID, m)
	})
}

// ReadAll returns the history in arrival order. On error the slice is empty, never nil,
// so callers that degrade can send it as is.
func (s *Store) ReadAll(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var (
		msgs    []domain.Message
		skipped int
	)
	err := s.call(ctx, "read history", func(ctx context.Context) error {
		var err error
		msgs, skipped, err = s.repo.ReadAll(ctx, sessionID)
		return err
	})
	if err != nil {
		return []domain.Message{}, err
	}
	if skipped > 0 && s.OnMalformed != nil {
		s.OnMalformed(sessionID, skipped)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// LoadSession returns the stored session or nil when absent.
func (s *Store) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.call(ctx, "load session", func(ctx context.Context) error {
		var err error
		sess, err = s.repo.LoadSession(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SaveSession writes the session record and, when it carries an operator address, the
// reverse index entry for that address. The index is written strictly after the session,
// so a failure in between leaves a session claiming an address the index does not point
// back to; tag correlation covers that window.
func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	if err := s.call(ctx, "save session", func(ctx context.Context) error {
		return s.repo.SaveSession(ctx, sess)
	}); err != nil {
		return err
	}
	if !sess.HasRoute() {
		return nil
	}
	return s.call(ctx, "put route", func(ctx context.Context) error {
		return s.repo.PutRoute(ctx, sess.Route(), sess.ID)
	})
}

// ResolveRoute returns the session id last routed to addr, or "" if none.
func (s *Store) ResolveRoute(ctx context.Context, addr domain.Address) (string, error) {
	var id string
	err := s.call(ctx, "resolve route", func(ctx context.Context) error {
		var err error
		id, err = s.repo.ResolveRoute(ctx, addr)
		return err
	})
	return id, err
}

// MarkSeen reports whether key is new within ttl.
func (s *Store) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var first bool
	err := s.call(ctx, "mark seen", func(ctx context.Context) error {
		var err error
		first, err = s.repo.MarkSeen(ctx, key, ttl)
		return err
	})
	return first, err
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", s.repo.Ping)
}

// Purge sweeps expired records on backends that need it. It is a no-op for Redis.
func (s *Store) Purge(ctx context.Context) error {
	p, ok := s.repo.(repository.Purger)
	if !ok {
		return nil
	}
	return s.call(ctx, "purge", p.Purge)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.repo.Close()
}
