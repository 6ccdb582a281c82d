package repository

import (
	"context"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// HistoryRepository persists the ordered message history of a session.
type HistoryRepository interface {
	// Append adds m to the end of the session's history and resets the history expiry.
	Append(ctx context.Context, sessionID string, m domain.Message) error
	// ReadAll returns the retained history in arrival order. An unknown or expired session
	// yields an empty slice. Malformed records are skipped and counted in skipped.
	ReadAll(ctx context.Context, sessionID string) (msgs []domain.Message, skipped int, err error)
}

// SessionRepository persists session metadata.
type SessionRepository interface {
	// LoadSession returns the session for id, or nil if not found.
	// It returns an error only for backend failures, not for missing records.
	LoadSession(ctx context.Context, id string) (*domain.Session, error)
	// SaveSession merges s into the stored record. A record without a route keeps the route
	// already stored, CreatedAt keeps its first value and LastSeenAt never moves backwards,
	// so concurrent saves from a touch and a route assignment cannot undo each other.
	SaveSession(ctx context.Context, s *domain.Session) error
}

// RouteRepository maps operator destinations back to sessions. Last write wins.
type RouteRepository interface {
	PutRoute(ctx context.Context, addr domain.Address, sessionID string) error
	// ResolveRoute returns the session id for addr, or "" if none.
	ResolveRoute(ctx context.Context, addr domain.Address) (string, error)
}

// DedupeRepository remembers keys for a bounded time.
type DedupeRepository interface {
	// MarkSeen records key for ttl and reports whether this is the first time it was seen.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (first bool, err error)
}

// Repository is the full persistence surface used by the session store.
// Implementations must be safe for concurrent use.
type Repository interface {
	HistoryRepository
	SessionRepository
	RouteRepository
	DedupeRepository
	Ping(ctx context.Context) error
	Close() error
}

// DefaultRetention is the history retention used when a backend is given a non-positive TTL.
const DefaultRetention = 7 * 24 * time.Hour

func retention(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultRetention
	}
	return ttl
}

// Purger is implemented by backends whose expiry needs an explicit sweep.
type Purger interface {
	Purge(ctx context.Context) error
}
