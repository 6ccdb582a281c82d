package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// PostgresRepository implements Repository on the schema in internal/db/migrations.
// Expiry is stored in expires_at columns; reads ignore expired rows and Purge deletes them.
type PostgresRepository struct {
	db   *sql.DB
	ttl  time.Duration
	nowF func() time.Time
}

// NewPostgresRepository returns a repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB, ttl time.Duration) *PostgresRepository {
	return &PostgresRepository{
		db:   db,
		ttl:  retention(ttl),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Append inserts the message and slides the history expiry in one transaction. A history
// that had already expired is cleared first so stale rows are never replayed.
func (r *PostgresRepository) Append(ctx context.Context, sessionID string, m domain.Message) (err error) {
	now := r.nowF()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE session_id = $1
		  AND EXISTS (SELECT 1 FROM chat_histories WHERE session_id = $1 AND expires_at <= $2)`,
		sessionID, now); err != nil {
		return fmt.Errorf("clear expired history: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO chat_histories (session_id, expires_at) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		sessionID, now.Add(r.ttl)); err != nil {
		return fmt.Errorf("refresh history expiry: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, sender, body, sent_at_ms) VALUES ($1, $2, $3, $4)`,
		sessionID, string(m.From), m.Text, m.Timestamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// ReadAll returns messages ordered by insertion id, which is arrival order.
func (r *PostgresRepository) ReadAll(ctx context.Context, sessionID string) ([]domain.Message, int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.sender, m.body, m.sent_at_ms
		FROM chat_messages m
		JOIN chat_histories h ON h.session_id = m.session_id
		WHERE m.session_id = $1 AND h.expires_at > $2
		ORDER BY m.id`,
		sessionID, r.nowF())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := make([]domain.Message, 0)
	skipped := 0
	for rows.Next() {
		var (
			sender string
			body   sql.NullString
			ts     int64
		)
		if err := rows.Scan(&sender, &body, &ts); err != nil {
			skipped++
			continue
		}
		m := domain.Message{From: domain.Sender(sender), Text: body.String, Timestamp: ts}
		if !m.Valid() {
			skipped++
			continue
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return msgs, skipped, nil
}

// LoadSession returns the session for id, or nil if not found or expired.
func (r *PostgresRepository) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	var (
		s       domain.Session
		address sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, last_seen_at, external_address, external_thread
		FROM chat_sessions
		WHERE id = $1 AND expires_at > $2`,
		id, r.nowF()).Scan(&s.ID, &s.CreatedAt, &s.LastSeenAt, &address, &s.ExternalThread)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.ExternalAddress = address.String
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastSeenAt = s.LastSeenAt.UTC()
	return &s, nil
}

// SaveSession upserts the session in one statement. created_at keeps its first value and a
// save without an address keeps the stored address and thread. An expired row is
// replaced as if it were absent.
func (r *PostgresRepository) SaveSession(ctx context.Context, s *domain.Session) error {
	now := r.nowF()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_sessions AS cur (id, created_at, last_seen_at, external_address, external_thread, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			created_at = CASE WHEN cur.expires_at <= $7 THEN EXCLUDED.created_at
				ELSE LEAST(cur.created_at, EXCLUDED.created_at) END,
			last_seen_at = CASE WHEN cur.expires_at <= $7 THEN EXCLUDED.last_seen_at
				ELSE GREATEST(cur.last_seen_at, EXCLUDED.last_seen_at) END,
			external_address = CASE WHEN EXCLUDED.external_address IS NULL AND cur.expires_at > $7
				THEN cur.external_address ELSE EXCLUDED.external_address END,
			external_thread = CASE WHEN EXCLUDED.external_address IS NULL AND cur.expires_at > $7
				THEN cur.external_thread ELSE EXCLUDED.external_thread END,
			expires_at = EXCLUDED.expires_at`,
		s.ID, s.CreatedAt, s.LastSeenAt,
		sql.NullString{String: s.ExternalAddress, Valid: s.ExternalAddress != ""},
		s.ExternalThread, now.Add(r.ttl), now)
	return err
}

func (r *PostgresRepository) PutRoute(ctx context.Context, addr domain.Address, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_routes (address, thread, session_id, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, thread) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			expires_at = EXCLUDED.expires_at`,
		addr.Chat, addr.Thread, sessionID, r.nowF().Add(r.ttl))
	return err
}

func (r *PostgresRepository) ResolveRoute(ctx context.Context, addr domain.Address) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id FROM chat_routes
		WHERE address = $1 AND thread = $2 AND expires_at > $3`,
		addr.Chat, addr.Thread, r.nowF()).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// MarkSeen inserts key, or revives it if its previous marker expired. One affected row means first sighting.
func (r *PostgresRepository) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := r.nowF()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_seen (key, expires_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE chat_seen.expires_at <= $3`,
		key, now.Add(ttl), now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge deletes expired histories (with their messages), sessions, routes and dedupe markers.
func (r *PostgresRepository) Purge(ctx context.Context) error {
	now := r.nowF()
	stmts := []string{
		`DELETE FROM chat_messages m USING chat_histories h
		 WHERE h.session_id = m.session_id AND h.expires_at <= $1`,
		`DELETE FROM chat_histories WHERE expires_at <= $1`,
		`DELETE FROM chat_sessions WHERE expires_at <= $1`,
		`DELETE FROM chat_routes WHERE expires_at <= $1`,
		`DELETE FROM chat_seen WHERE expires_at <= $1`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database handle.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
