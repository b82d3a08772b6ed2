// Package redisrepo implements store.Store on Redis. Every operation touches
// a single key (or a key plus its sorted-set index entry written
// idempotently), so the backend keeps the single-row guarantees the services
// rely on: SETNX for conditional inserts, WATCH/MULTI for compare-and-swap,
// key expiry for TTL rows and lexicographic sorted sets for the ordered index.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

const (
	cursorVersion byte = 1
	scanCount          = 200
)

var errCASMismatch = errors.New("sequence value changed")

// Options configures the client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // namespace for every key, e.g. "shortlink:"
}

// Store is a Redis-backed store.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New connects to Redis. The connection is lazy; use Ping to verify it.
func New(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(rdb, opts.Prefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) linkKey(id string) string { return s.prefix + "link:" + id }
func (s *Store) seqKey(name string) string { return s.prefix + "seq:" + name }
func (s *Store) stateKey(id string) string { return s.prefix + "state:" + id }
func (s *Store) lastKey(id string) string { return s.prefix + "last:" + id }
func (s *Store) metaKey(id string) string { return s.prefix + "meta:" + id }
func (s *Store) createLogKey(id string) string { return s.prefix + "log:create:" + id }
func (s *Store) accessLogKey(id string) string { return s.prefix + "log:access:" + id }
func (s *Store) indexKey(bucket string) string { return s.prefix + "index:" + bucket }
func (s *Store) indexRowsKey(bucket string) string { return s.prefix + "index:" + bucket + ":rows" }
func (s *Store) idemKey(key string) string { return s.prefix + "idem:" + key }

// --- links ---

// InsertLinkIfAbsent writes the link with SETNX and reads back the winner on conflict.
func (s *Store) InsertLinkIfAbsent(ctx context.Context, link domain.ShortLink) (store.InsertResult, error) {
	b, err := json.Marshal(link)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, s.linkKey(link.ID), b, 0).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return store.Applied{Link: link}, nil
	}
	existing, err := s.GetLink(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("setnx %q not applied but key missing: %w", link.ID, store.ErrProtocolViolation)
	}
	return store.Conflict{Existing: *existing}, nil
}

// GetLink returns nil when the key does not exist.
func (s *Store) GetLink(ctx context.Context, id string) (*domain.ShortLink, error) {
	var l domain.ShortLink
	found, err := s.getJSON(ctx, s.linkKey(id), &l)
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

// ScanLinks iterates the link keyspace with SCAN.
func (s *Store) ScanLinks(ctx context.Context, fn func(domain.ShortLink) error) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"link:*", scanCount).Iterator()
	for iter.Next(ctx) {
		var l domain.ShortLink
		found, err := s.getJSON(ctx, iter.Val(), &l)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return iter.Err()
}

// --- sequence ---

// ReadSequence treats a missing counter as zero.
func (s *Store) ReadSequence(ctx context.Context, name string) (uint64, error) {
	v, err := s.rdb.Get(ctx, s.seqKey(name)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// CompareAndSwapSequence uses WATCH/MULTI/EXEC; a concurrent write aborts the
// transaction and reports false.
func (s *Store) CompareAndSwapSequence(ctx context.Context, name string, expected, next uint64) (bool, error) {
	key := s.seqKey(name)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Uint64()
		if errors.Is(err, redis.Nil) {
			cur, err = 0, nil
		}
		if err != nil {
			return err
		}
		if cur != expected {
			return errCASMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, strconv.FormatUint(next, 10), 0)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errCASMismatch), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

// --- state ---

// PutState overwrites the state record.
func (s *Store) PutState(ctx context.Context, st domain.LinkState) error {
	return s.setJSON(ctx, s.stateKey(st.ID), st, 0)
}

// GetState returns nil when the link has no state record.
func (s *Store) GetState(ctx context.Context, id string) (*domain.LinkState, error) {
	var st domain.LinkState
	found, err := s.getJSON(ctx, s.stateKey(id), &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// --- ordered index ---

// sortKey orders members newest first, then by id ascending, under ZRANGEBYLEX.
func sortKey(e domain.OrderedIndexEntry) string {
	return fmt.Sprintf("%019d:%s", math.MaxInt64-e.CreatedNS, e.ID)
}

// InsertIndexEntry stores the row then its sorted-set member, both only if absent.
func (s *Store) InsertIndexEntry(ctx context.Context, e domain.OrderedIndexEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	member := sortKey(e)
	if err := s.rdb.HSetNX(ctx, s.indexRowsKey(e.Bucket), member, b).Err(); err != nil {
		return err
	}
	return s.rdb.ZAddNX(ctx, s.indexKey(e.Bucket), &redis.Z{Score: 0, Member: member}).Err()
}

// HasIndexEntries checks the sorted-set cardinality.
func (s *Store) HasIndexEntries(ctx context.Context, bucket string) (bool, error) {
	n, err := s.rdb.ZCard(ctx, s.indexKey(bucket)).Result()
	return n > 0, err
}

// ScanIndexPage reads limit+1 members after the cursor member.
func (s *Store) ScanIndexPage(ctx context.Context, bucket string, limit int, cursor []byte) ([]domain.OrderedIndexEntry, []byte, error) {
	lo := "-"
	if len(cursor) > 0 {
		if len(cursor) < 2 || cursor[0] != cursorVersion {
			return nil, nil, store.ErrInvalidCursor
		}
		lo = "(" + string(cursor[1:])
	}
	members, err := s.rdb.ZRangeByLex(ctx, s.indexKey(bucket), &redis.ZRangeBy{
		Min:   lo,
		Max:   "+",
		Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return nil, nil, err
	}
	more := len(members) > limit
	if more {
		members = members[:limit]
	}
	if len(members) == 0 {
		return nil, nil, nil
	}

	vals, err := s.rdb.HMGet(ctx, s.indexRowsKey(bucket), members...).Result()
	if err != nil {
		return nil, nil, err
	}
	out := make([]domain.OrderedIndexEntry, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("index member %q has no row: %w", members[i], store.ErrProtocolViolation)
		}
		var e domain.OrderedIndexEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, nil, err
		}
		e.Bucket = bucket
		e.CreatedNS = e.CreatedAt.UnixNano()
		out = append(out, e)
	}
	if !more {
		return out, nil, nil
	}
	next := append([]byte{cursorVersion}, members[len(members)-1]...)
	return out, next, nil
}

// --- ledger ---

// logEnvelope is a sorted-set member. N keeps otherwise identical entries
// distinct and X carries the entry's own expiry in unix microseconds.
type logEnvelope[T any] struct {
	N string `json:"n"`
	X int64  `json:"x"`
	E T      `json:"e"`
}

// appendLogScript adds one member to a pair of sorted sets holding the same
// members: KEYS[1] scored by timestamp (read order) and KEYS[2] scored by
// expiry (trimming). Members expired at the entry's timestamp are dropped
// from both. Key TTLs are only ever extended so entries written under a
// longer AUDIT_TTL keep their own lifetime.
//
// ARGV: member, ts score, expiry score, ttl in ms.
var appendLogScript = redis.NewScript(`
local gone = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
for _, m in ipairs(gone) do
  redis.call('ZREM', KEYS[1], m)
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
local ttl = tonumber(ARGV[4])
for _, k in ipairs(KEYS) do
  if redis.call('PTTL', k) < ttl then
    redis.call('PEXPIRE', k, ttl)
  end
end
return #gone
`)

func appendLog[T any](ctx context.Context, rdb *redis.Client, key string, entry T, ts time.Time, ttl time.Duration) error {
	expiry := ts.Add(ttl)
	b, err := json.Marshal(logEnvelope[T]{N: uuid.NewString(), X: expiry.UnixMicro(), E: entry})
	if err != nil {
		return err
	}
	return appendLogScript.Run(ctx, rdb, []string{key, key + ":exp"},
		string(b), ts.UnixMicro(), expiry.UnixMicro(), ttl.Milliseconds(),
	).Err()
}

// listLogs walks the timestamp-ordered set newest first and keeps entries
// whose own expiry is after now. Expired members linger until the next
// append trims them, so reads page past them.
func listLogs[T any](ctx context.Context, rdb *redis.Client, key string, limit int, now time.Time) ([]T, error) {
	out := make([]T, 0, limit)
	if limit <= 0 {
		return out, nil
	}
	cutoff := now.UnixMicro()
	batch := int64(limit) * 2
	for start := int64(0); ; start += batch {
		raw, err := rdb.ZRevRange(ctx, key, start, start+batch-1).Result()
		if err != nil {
			return nil, err
		}
		for _, r := range raw {
			var env logEnvelope[T]
			if err := json.Unmarshal([]byte(r), &env); err != nil {
				return nil, err
			}
			if env.X <= cutoff {
				continue
			}
			out = append(out, env.E)
			if len(out) == limit {
				return out, nil
			}
		}
		if int64(len(raw)) < batch {
			return out, nil
		}
	}
}

// AppendCreateLog adds a create audit entry living for ttl.
func (s *Store) AppendCreateLog(ctx context.Context, e domain.CreateAuditEntry, ttl time.Duration) error {
	e.ExpiresAt = e.Timestamp.Add(ttl)
	return appendLog(ctx, s.rdb, s.createLogKey(e.LinkID), e, e.Timestamp, ttl)
}

// AppendAccessLog adds an access audit entry living for ttl.
func (s *Store) AppendAccessLog(ctx context.Context, e domain.AccessAuditEntry, ttl time.Duration) error {
	e.ExpiresAt = e.Timestamp.Add(ttl)
	return appendLog(ctx, s.rdb, s.accessLogKey(e.LinkID), e, e.Timestamp, ttl)
}

// ListCreateLogs returns unexpired create entries, newest first.
func (s *Store) ListCreateLogs(ctx context.Context, id string, limit int, now time.Time) ([]domain.CreateAuditEntry, error) {
	return listLogs[domain.CreateAuditEntry](ctx, s.rdb, s.createLogKey(id), limit, now)
}

// ListAccessLogs returns unexpired access entries, newest first.
func (s *Store) ListAccessLogs(ctx context.Context, id string, limit int, now time.Time) ([]domain.AccessAuditEntry, error) {
	return listLogs[domain.AccessAuditEntry](ctx, s.rdb, s.accessLogKey(id), limit, now)
}

// PutLastAccess overwrites the last-access record.
func (s *Store) PutLastAccess(ctx context.Context, la domain.LastAccess) error {
	return s.setJSON(ctx, s.lastKey(la.ID), la, 0)
}

// GetLastAccess returns nil when the link was never resolved.
func (s *Store) GetLastAccess(ctx context.Context, id string) (*domain.LastAccess, error) {
	var la domain.LastAccess
	found, err := s.getJSON(ctx, s.lastKey(id), &la)
	if err != nil || !found {
		return nil, err
	}
	return &la, nil
}

// InsertCreateMetaIfAbsent uses SET NX EX so the first writer wins until expiry.
func (s *Store) InsertCreateMetaIfAbsent(ctx context.Context, m domain.CreateMeta, ttl time.Duration) (bool, error) {
	m.ExpiresAt = m.CreatedAt.Add(ttl)
	b, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, s.metaKey(m.ID), b, ttl).Result()
}

// GetCreateMeta returns nil once Redis expired the key.
func (s *Store) GetCreateMeta(ctx context.Context, id string, _ time.Time) (*domain.CreateMeta, error) {
	var m domain.CreateMeta
	found, err := s.getJSON(ctx, s.metaKey(id), &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// --- idempotency ---

// SaveIdempotencyIfAbsent stores rec until its ExpiresAt.
func (s *Store) SaveIdempotencyIfAbsent(ctx context.Context, rec domain.Idempotency) (bool, error) {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return false, fmt.Errorf("idempotency record %q already expired", rec.Key)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, s.idemKey(rec.Key), b, ttl).Result()
}

// GetIdempotency returns nil when no live record holds the key.
func (s *Store) GetIdempotency(ctx context.Context, key string, now time.Time) (*domain.Idempotency, error) {
	var rec domain.Idempotency
	found, err := s.getJSON(ctx, s.idemKey(key), &rec)
	if err != nil || !found || !rec.ExpiresAt.After(now) {
		return nil, err
	}
	return &rec, nil
}

// --- lifecycle ---

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close closes the client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, ttl).Err()
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, v)
}
