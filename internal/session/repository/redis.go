package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/session/domain"
)

// Key layout:
//
//	chat:<session>                 list of JSON messages (same key the first deployment used)
//	chatmeta:<session>             hash: id, created_at, last_seen_at (unix µs), address, thread
//	chatroute:<chat>:<thread>      session id
//	chatseen:<key>                 dedupe marker
const (
	historyPrefix = "chat:"
	metaPrefix    = "chatmeta:"
	routePrefix   = "chatroute:"
	seenPrefix    = "chatseen:"
)

// RedisRepository implements Repository on Redis. Every key carries a TTL; the history TTL
// is refreshed on each append, session and route TTLs on each save.
type RedisRepository struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisRepository returns a repository using rdb with the given retention.
func NewRedisRepository(rdb redis.UniversalClient, ttl time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, ttl: retention(ttl)}
}

// OpenRedis parses a redis:// URL (or bare host:port), connects and pings.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, errors.New("redis: URL is empty")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		opts = &redis.Options{Addr: rawURL}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

func historyKey(sessionID string) string { return historyPrefix + sessionID }

func metaKey(sessionID string) string { return metaPrefix + sessionID }

func routeKey(addr domain.Address) string { return routePrefix + addr.Chat + ":" + addr.Thread }

func (r *RedisRepository) Append(ctx context.Context, sessionID string, m domain.Message) error {
	raw, err := domain.EncodeMessage(m)
	if err != nil {
		return err
	}
	key := historyKey(sessionID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *RedisRepository) ReadAll(ctx context.Context, sessionID string) ([]domain.Message, int, error) {
	items, err := r.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, 0, err
	}
	records := make([][]byte, len(items))
	for i, s := range items {
		records[i] = []byte(s)
	}
	msgs, skipped := decodeAll(records)
	return msgs, skipped, nil
}

func (r *RedisRepository) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || fields["id"] == "" {
		return nil, nil
	}
	created, errC := strconv.ParseInt(fields["created_at"], 10, 64)
	seen, errS := strconv.ParseInt(fields["last_seen_at"], 10, 64)
	if errC != nil || errS != nil {
		// An unreadable record is treated as absent so the session is recreated.
		return nil, nil
	}
	return &domain.Session{
		ID:              fields["id"],
		CreatedAt:       time.UnixMicro(created).UTC(),
		LastSeenAt:      time.UnixMicro(seen).UTC(),
		ExternalAddress: fields["address"],
		ExternalThread:  fields["thread"],
	}, nil
}

// saveSessionScript merges a session into its hash atomically: created_at and id are set
// once, last_seen_at only moves forward, and the route is written only when present.
var saveSessionScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'id', ARGV[1])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[2])
local seen = tonumber(redis.call('HGET', KEYS[1], 'last_seen_at') or '0') or 0
if tonumber(ARGV[3]) > seen then
	redis.call('HSET', KEYS[1], 'last_seen_at', ARGV[3])
end
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[1], 'address', ARGV[4], 'thread', ARGV[5])
end
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

func (r *RedisRepository) SaveSession(ctx context.Context, s *domain.Session) error {
	return saveSessionScript.Run(ctx, r.rdb, []string{metaKey(s.ID)},
		s.ID,
		s.CreatedAt.UnixMicro(),
		s.LastSeenAt.UnixMicro(),
		s.ExternalAddress,
		s.ExternalThread,
		r.ttl.Milliseconds(),
	).Err()
}

func (r *RedisRepository) PutRoute(ctx context.Context, addr domain.Address, sessionID string) error {
	return r.rdb.Set(ctx, routeKey(addr), sessionID, r.ttl).Err()
}

func (r *RedisRepository) ResolveRoute(ctx context.Context, addr domain.Address) (string, error) {
	id, err := r.rdb.Get(ctx, routeKey(addr)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (r *RedisRepository) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, seenPrefix+key, 1, ttl).Result()
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisRepository) Close() error {
	return r.rdb.Close()
}
