// Package store declares the persistence contract shared by every backend.
//
// The contract exposes only the primitives a leaderless store provides:
// single-row conditional inserts, single-row compare-and-swap, TTL-bound
// rows and a clustered range scan. Services compose these into the create,
// list and redirect protocols; backends never coordinate across rows.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
)

const (
	// SequenceName names the counter row used for generated ids.
	SequenceName = "short_link_id"
	// DefaultBucket is the partition holding the ordered index.
	DefaultBucket = "all"
	// DefaultAuditTTL is the lifetime of audit rows and creator metadata.
	DefaultAuditTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidCursor is returned by ScanIndexPage for tokens it did not issue.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrProtocolViolation reports a conditional-write response that lacks the
	// columns the protocol relies on.
	ErrProtocolViolation = errors.New("store protocol violation")
)

// InsertResult is the outcome of InsertLinkIfAbsent: Applied or Conflict.
type InsertResult interface {
	insertResult()
}

// Applied means this call wrote the row.
type Applied struct {
	Link domain.ShortLink
}

// Conflict means a row already existed; Existing carries its stored values.
type Conflict struct {
	Existing domain.ShortLink
}

func (Applied) insertResult()  {}
func (Conflict) insertResult() {}

// LinkStore persists the canonical ShortLink rows.
type LinkStore interface {
	// InsertLinkIfAbsent writes link unless a row with the same id exists.
	InsertLinkIfAbsent(ctx context.Context, link domain.ShortLink) (InsertResult, error)
	// GetLink returns nil, nil when the id is unknown.
	GetLink(ctx context.Context, id string) (*domain.ShortLink, error)
	// ScanLinks visits every stored link in no particular order.
	ScanLinks(ctx context.Context, fn func(domain.ShortLink) error) error
}

// SequenceStore holds named counters mutated only by compare-and-swap.
type SequenceStore interface {
	ReadSequence(ctx context.Context, name string) (uint64, error)
	// CompareAndSwapSequence sets name to next iff it still equals expected.
	CompareAndSwapSequence(ctx context.Context, name string, expected, next uint64) (bool, error)
}

// StateStore keeps the mutable enable/disable record.
type StateStore interface {
	PutState(ctx context.Context, st domain.LinkState) error
	// GetState returns nil, nil when no state row exists.
	GetState(ctx context.Context, id string) (*domain.LinkState, error)
}

// IndexStore maintains the recency-ordered view.
type IndexStore interface {
	// InsertIndexEntry is insert-if-absent on (bucket, created_at, id).
	InsertIndexEntry(ctx context.Context, e domain.OrderedIndexEntry) error
	// ScanIndexPage returns up to limit entries after cursor, newest first,
	// and a cursor for the next page or nil when the bucket is exhausted.
	ScanIndexPage(ctx context.Context, bucket string, limit int, cursor []byte) ([]domain.OrderedIndexEntry, []byte, error)
	HasIndexEntries(ctx context.Context, bucket string) (bool, error)
}

// LedgerStore keeps audit trails, creator metadata and last access.
type LedgerStore interface {
	AppendCreateLog(ctx context.Context, e domain.CreateAuditEntry, ttl time.Duration) error
	AppendAccessLog(ctx context.Context, e domain.AccessAuditEntry, ttl time.Duration) error
	// ListCreateLogs and ListAccessLogs return unexpired entries for id,
	// newest first.
	ListCreateLogs(ctx context.Context, id string, limit int, now time.Time) ([]domain.CreateAuditEntry, error)
	ListAccessLogs(ctx context.Context, id string, limit int, now time.Time) ([]domain.AccessAuditEntry, error)
	PutLastAccess(ctx context.Context, la domain.LastAccess) error
	GetLastAccess(ctx context.Context, id string) (*domain.LastAccess, error)
	// InsertCreateMetaIfAbsent reports whether m was written.
	InsertCreateMetaIfAbsent(ctx context.Context, m domain.CreateMeta, ttl time.Duration) (bool, error)
	GetCreateMeta(ctx context.Context, id string, now time.Time) (*domain.CreateMeta, error)
}

// IdempotencyStore remembers create outcomes keyed by Idempotency-Key.
type IdempotencyStore interface {
	SaveIdempotencyIfAbsent(ctx context.Context, rec domain.Idempotency) (bool, error)
	GetIdempotency(ctx context.Context, key string, now time.Time) (*domain.Idempotency, error)
}

// Store is the full capability set a backend provides.
type Store interface {
	LinkStore
	SequenceStore
	StateStore
	IndexStore
	LedgerStore
	IdempotencyStore
	Ping(ctx context.Context) error
	Close() error
}
