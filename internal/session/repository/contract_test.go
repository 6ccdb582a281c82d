package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// clock is a settable time source for backends that take nowF.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backend builds a fresh repository with the given retention. advance moves the backend's
// notion of time forward; injectMalformed stores a record that cannot be decoded.
type backend struct {
	name            string
	open            func(t *testing.T, ttl time.Duration) Repository
	advance         func(t *testing.T, d time.Duration)
	injectMalformed func(t *testing.T, sessionID string)
}

func backends() []backend {
	var (
		mem *MemoryRepository
		pg  *PostgresRepository
		clk *clock
	)
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T, ttl time.Duration) Repository {
				clk = &clock{now: time.Now().UTC()}
				mem = NewMemoryRepository(ttl)
				mem.nowF = clk.Now
				return mem
			},
			advance: func(_ *testing.T, d time.Duration) { clk.Advance(d) },
			injectMalformed: func(t *testing.T, sessionID string) {
				require.NoError(t, mem.appendRaw(sessionID, []byte(`{"from":"user","text":`)))
			},
		},
		{
			name: "redis",
			open: func(t *testing.T, ttl time.Duration) Repository {
				return NewRedisRepository(getRedis(t), ttl)
			},
			advance: func(_ *testing.T, d time.Duration) { time.Sleep(d) },
			injectMalformed: func(t *testing.T, sessionID string) {
				require.NoError(t, testRedisClient.RPush(context.Background(), historyKey(sessionID), "not json").Err())
			},
		},
		{
			name: "postgres",
			open: func(t *testing.T, ttl time.Duration) Repository {
				clk = &clock{now: time.Now().UTC()}
				pg = NewPostgresRepository(getPostgres(t), ttl)
				pg.nowF = clk.Now
				return pg
			},
			advance: func(_ *testing.T, d time.Duration) { clk.Advance(d) },
			injectMalformed: func(t *testing.T, sessionID string) {
				_, err := testPostgres.Exec(
					`INSERT INTO chat_messages (session_id, sender, body, sent_at_ms) VALUES ($1, 'bot', NULL, 0)`, sessionID)
				require.NoError(t, err)
			},
		},
	}
}

func msg(from domain.Sender, text string, ts int64) domain.Message {
	return domain.Message{From: from, Text: text, Timestamp: ts}
}

func TestRepositoryContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Run("history keeps arrival order", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				// Timestamps deliberately out of order: replay follows arrival, not ts.
				want := []domain.Message{
					msg(domain.SenderUser, "hello", 3000),
					msg(domain.SenderAdmin, "hi, how can I help?", 1000),
					msg(domain.SenderSystem, "received", 2000),
				}
				for _, m := range want {
					require.NoError(t, repo.Append(ctx, "s-order", m))
				}
				got, skipped, err := repo.ReadAll(ctx, "s-order")
				require.NoError(t, err)
				assert.Equal(t, 0, skipped)
				assert.Equal(t, want, got)
			})

			t.Run("unknown session reads empty", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				got, skipped, err := repo.ReadAll(context.Background(), "s-nobody")
				require.NoError(t, err)
				assert.NotNil(t, got)
				assert.Empty(t, got)
				assert.Zero(t, skipped)
			})

			t.Run("histories are isolated", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				require.NoError(t, repo.Append(ctx, "s-a", msg(domain.SenderUser, "for a", 1)))
				require.NoError(t, repo.Append(ctx, "s-b", msg(domain.SenderUser, "for b", 2)))
				got, _, err := repo.ReadAll(ctx, "s-a")
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "for a", got[0].Text)
			})

			t.Run("malformed records are skipped and counted", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				require.NoError(t, repo.Append(ctx, "s-bad", msg(domain.SenderUser, "before", 1)))
				b.injectMalformed(t, "s-bad")
				require.NoError(t, repo.Append(ctx, "s-bad", msg(domain.SenderAdmin, "after", 2)))

				got, skipped, err := repo.ReadAll(ctx, "s-bad")
				require.NoError(t, err)
				assert.Equal(t, 1, skipped)
				require.Len(t, got, 2)
				assert.Equal(t, "before", got[0].Text)
				assert.Equal(t, "after", got[1].Text)
			})

			t.Run("session round trip", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()

				missing, err := repo.LoadSession(ctx, "s-missing")
				require.NoError(t, err)
				assert.Nil(t, missing)

				created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
				s := domain.NewSession("s-1", created)
				require.NoError(t, repo.SaveSession(ctx, s))
				got, err := repo.LoadSession(ctx, "s-1")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, "s-1", got.ID)
				assert.True(t, got.CreatedAt.Equal(created), "CreatedAt = %v", got.CreatedAt)
				assert.False(t, got.HasRoute())

				s.Touch(created.Add(time.Minute))
				s.AssignRoute(domain.Address{Chat: "-1001", Thread: "42"})
				require.NoError(t, repo.SaveSession(ctx, s))
				got, err = repo.LoadSession(ctx, "s-1")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.True(t, got.LastSeenAt.Equal(created.Add(time.Minute)), "LastSeenAt = %v", got.LastSeenAt)
				assert.Equal(t, domain.Address{Chat: "-1001", Thread: "42"}, got.Route())
			})

			t.Run("save without route keeps stored route", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

				// stale is what a resolver loaded before the router assigned a route.
				stale := domain.NewSession("s-merge", created)
				require.NoError(t, repo.SaveSession(ctx, stale))

				routed := domain.NewSession("s-merge", created)
				routed.Touch(created.Add(time.Minute))
				routed.AssignRoute(domain.Address{Chat: "-1001", Thread: "9"})
				require.NoError(t, repo.SaveSession(ctx, routed))

				stale.Touch(created.Add(30 * time.Second))
				require.NoError(t, repo.SaveSession(ctx, stale))

				got, err := repo.LoadSession(ctx, "s-merge")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, domain.Address{Chat: "-1001", Thread: "9"}, got.Route())
				assert.True(t, got.CreatedAt.Equal(created), "CreatedAt = %v", got.CreatedAt)
				assert.True(t, got.LastSeenAt.Equal(created.Add(time.Minute)), "LastSeenAt = %v", got.LastSeenAt)

				moved := domain.NewSession("s-merge", created)
				moved.Touch(created.Add(2 * time.Minute))
				moved.AssignRoute(domain.Address{Chat: "-1002"})
				require.NoError(t, repo.SaveSession(ctx, moved))
				got, err = repo.LoadSession(ctx, "s-merge")
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, domain.Address{Chat: "-1002"}, got.Route())
				assert.True(t, got.LastSeenAt.Equal(created.Add(2*time.Minute)), "LastSeenAt = %v", got.LastSeenAt)
			})

			t.Run("concurrent appends keep per-session order", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				const sessions, perSession = 8, 25

				var wg sync.WaitGroup
				errs := make(chan error, sessions*perSession)
				for s := 0; s < sessions; s++ {
					wg.Add(1)
					go func(s int) {
						defer wg.Done()
						id := fmt.Sprintf("s-conc-%d", s)
						for i := 0; i < perSession; i++ {
							m := msg(domain.SenderUser, fmt.Sprintf("%d:%d", s, i), int64(i))
							if err := repo.Append(ctx, id, m); err != nil {
								errs <- err
							}
						}
					}(s)
				}
				wg.Wait()
				close(errs)
				for err := range errs {
					require.NoError(t, err)
				}

				for s := 0; s < sessions; s++ {
					got, skipped, err := repo.ReadAll(ctx, fmt.Sprintf("s-conc-%d", s))
					require.NoError(t, err)
					assert.Zero(t, skipped)
					require.Len(t, got, perSession)
					for i, m := range got {
						assert.Equal(t, fmt.Sprintf("%d:%d", s, i), m.Text)
					}
				}
			})

			t.Run("route last write wins", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				shared := domain.Address{Chat: "-1001"}
				topic := domain.Address{Chat: "-1001", Thread: "7"}

				id, err := repo.ResolveRoute(ctx, shared)
				require.NoError(t, err)
				assert.Empty(t, id)

				require.NoError(t, repo.PutRoute(ctx, shared, "s-first"))
				require.NoError(t, repo.PutRoute(ctx, topic, "s-topic"))
				require.NoError(t, repo.PutRoute(ctx, shared, "s-second"))

				id, err = repo.ResolveRoute(ctx, shared)
				require.NoError(t, err)
				assert.Equal(t, "s-second", id)
				id, err = repo.ResolveRoute(ctx, topic)
				require.NoError(t, err)
				assert.Equal(t, "s-topic", id)
			})

			t.Run("mark seen", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				ctx := context.Background()
				first, err := repo.MarkSeen(ctx, "operator:1", time.Minute)
				require.NoError(t, err)
				assert.True(t, first)
				first, err = repo.MarkSeen(ctx, "operator:1", time.Minute)
				require.NoError(t, err)
				assert.False(t, first)
				first, err = repo.MarkSeen(ctx, "operator:2", time.Minute)
				require.NoError(t, err)
				assert.True(t, first)
			})

			t.Run("records expire", func(t *testing.T) {
				repo := b.open(t, time.Second)
				ctx := context.Background()
				require.NoError(t, repo.Append(ctx, "s-exp", msg(domain.SenderUser, "old", 1)))
				require.NoError(t, repo.SaveSession(ctx, domain.NewSession("s-exp", time.Now())))
				require.NoError(t, repo.PutRoute(ctx, domain.Address{Chat: "c"}, "s-exp"))
				first, err := repo.MarkSeen(ctx, "k", time.Second)
				require.NoError(t, err)
				require.True(t, first)

				b.advance(t, 1500*time.Millisecond)

				got, _, err := repo.ReadAll(ctx, "s-exp")
				require.NoError(t, err)
				assert.Empty(t, got)
				s, err := repo.LoadSession(ctx, "s-exp")
				require.NoError(t, err)
				assert.Nil(t, s)
				id, err := repo.ResolveRoute(ctx, domain.Address{Chat: "c"})
				require.NoError(t, err)
				assert.Empty(t, id)
				first, err = repo.MarkSeen(ctx, "k", time.Second)
				require.NoError(t, err)
				assert.True(t, first, "expired marker should count as first sighting")

				// A new message after expiry starts a fresh history.
				require.NoError(t, repo.Append(ctx, "s-exp", msg(domain.SenderUser, "new", 2)))
				got, _, err = repo.ReadAll(ctx, "s-exp")
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "new", got[0].Text)

				if p, ok := repo.(Purger); ok {
					assert.NoError(t, p.Purge(ctx))
				}
			})

			t.Run("append slides history expiry", func(t *testing.T) {
				repo := b.open(t, 2*time.Second)
				ctx := context.Background()
				require.NoError(t, repo.Append(ctx, "s-slide", msg(domain.SenderUser, "one", 1)))
				b.advance(t, 1200*time.Millisecond)
				require.NoError(t, repo.Append(ctx, "s-slide", msg(domain.SenderUser, "two", 2)))
				b.advance(t, 1200*time.Millisecond)

				got, _, err := repo.ReadAll(ctx, "s-slide")
				require.NoError(t, err)
				assert.Len(t, got, 2)
			})

			t.Run("ping", func(t *testing.T) {
				repo := b.open(t, time.Hour)
				assert.NoError(t, repo.Ping(context.Background()))
			})
		})
	}
}

func TestMemoryRepository_PurgeDropsExpired(t *testing.T) {
	clk := &clock{now: time.Now().UTC()}
	repo := NewMemoryRepository(time.Minute)
	repo.nowF = clk.Now
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, "s-1", msg(domain.SenderUser, "x", 1)))
	require.NoError(t, repo.SaveSession(ctx, domain.NewSession("s-1", clk.Now())))
	require.NoError(t, repo.PutRoute(ctx, domain.Address{Chat: "c"}, "s-1"))
	_, err := repo.MarkSeen(ctx, "k", time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	require.NoError(t, repo.Purge(ctx))

	repo.mu.RLock()
	defer repo.mu.RUnlock()
	assert.Empty(t, repo.history)
	assert.Empty(t, repo.sessions)
	assert.Empty(t, repo.routes)
	assert.Empty(t, repo.seen)
}

func TestRetention_Default(t *testing.T) {
	assert.Equal(t, DefaultRetention, retention(0))
	assert.Equal(t, DefaultRetention, retention(-time.Second))
	assert.Equal(t, time.Hour, retention(time.Hour))
}
