package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

// Store adapts the repository free functions to store.Store so services stay
// decoupled from GORM.
type Store struct {
	DB *gorm.DB
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an opened, migrated database.
func NewStore(db *gorm.DB) *Store { return &Store{DB: db} }

// InsertLinkIfAbsent proxies InsertLinkIfAbsent.
func (s *Store) InsertLinkIfAbsent(ctx context.Context, link domain.ShortLink) (store.InsertResult, error) {
	return InsertLinkIfAbsent(ctx, s.DB, link)
}

// GetLink proxies GetLink.
func (s *Store) GetLink(ctx context.Context, id string) (*domain.ShortLink, error) {
	return GetLink(ctx, s.DB, id)
}

// ScanLinks proxies ScanLinks.
func (s *Store) ScanLinks(ctx context.Context, fn func(domain.ShortLink) error) error {
	return ScanLinks(ctx, s.DB, fn)
}

// ReadSequence proxies ReadSequence.
func (s *Store) ReadSequence(ctx context.Context, name string) (uint64, error) {
	return ReadSequence(ctx, s.DB, name)
}

// CompareAndSwapSequence proxies CompareAndSwapSequence.
func (s *Store) CompareAndSwapSequence(ctx context.Context, name string, expected, next uint64) (bool, error) {
	return CompareAndSwapSequence(ctx, s.DB, name, expected, next)
}

// PutState proxies PutState.
func (s *Store) PutState(ctx context.Context, st domain.LinkState) error {
	return PutState(ctx, s.DB, st)
}

// GetState proxies GetState.
func (s *Store) GetState(ctx context.Context, id string) (*domain.LinkState, error) {
	return GetState(ctx, s.DB, id)
}

// InsertIndexEntry proxies InsertIndexEntry.
func (s *Store) InsertIndexEntry(ctx context.Context, e domain.OrderedIndexEntry) error {
	return InsertIndexEntry(ctx, s.DB, e)
}

// ScanIndexPage proxies ScanIndexPage.
func (s *Store) ScanIndexPage(ctx context.Context, bucket string, limit int, cursor []byte) ([]domain.OrderedIndexEntry, []byte, error) {
	return ScanIndexPage(ctx, s.DB, bucket, limit, cursor)
}

// HasIndexEntries proxies HasIndexEntries.
func (s *Store) HasIndexEntries(ctx context.Context, bucket string) (bool, error) {
	return HasIndexEntries(ctx, s.DB, bucket)
}

// AppendCreateLog proxies AppendCreateLog.
func (s *Store) AppendCreateLog(ctx context.Context, e domain.CreateAuditEntry, ttl time.Duration) error {
	return AppendCreateLog(ctx, s.DB, e, ttl)
}

// AppendAccessLog proxies AppendAccessLog.
func (s *Store) AppendAccessLog(ctx context.Context, e domain.AccessAuditEntry, ttl time.Duration) error {
	return AppendAccessLog(ctx, s.DB, e, ttl)
}

// ListCreateLogs proxies ListCreateLogs.
func (s *Store) ListCreateLogs(ctx context.Context, id string, limit int, now time.Time) ([]domain.CreateAuditEntry, error) {
	return ListCreateLogs(ctx, s.DB, id, limit, now)
}

// ListAccessLogs proxies ListAccessLogs.
func (s *Store) ListAccessLogs(ctx context.Context, id string, limit int, now time.Time) ([]domain.AccessAuditEntry, error) {
	return ListAccessLogs(ctx, s.DB, id, limit, now)
}

// PutLastAccess proxies PutLastAccess.
func (s *Store) PutLastAccess(ctx context.Context, la domain.LastAccess) error {
	return PutLastAccess(ctx, s.DB, la)
}

// GetLastAccess proxies GetLastAccess.
func (s *Store) GetLastAccess(ctx context.Context, id string) (*domain.LastAccess, error) {
	return GetLastAccess(ctx, s.DB, id)
}

// InsertCreateMetaIfAbsent proxies InsertCreateMetaIfAbsent.
func (s *Store) InsertCreateMetaIfAbsent(ctx context.Context, m domain.CreateMeta, ttl time.Duration) (bool, error) {
	return InsertCreateMetaIfAbsent(ctx, s.DB, m, ttl)
}

// GetCreateMeta proxies GetCreateMeta.
func (s *Store) GetCreateMeta(ctx context.Context, id string, now time.Time) (*domain.CreateMeta, error) {
	return GetCreateMeta(ctx, s.DB, id, now)
}

// SaveIdempotencyIfAbsent reports false when the key is already taken.
func (s *Store) SaveIdempotencyIfAbsent(ctx context.Context, rec domain.Idempotency) (bool, error) {
	_, err := CreateIdempotency(ctx, s.DB, rec)
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	return err == nil, err
}

// GetIdempotency returns nil when no live record holds the key.
func (s *Store) GetIdempotency(ctx context.Context, key string, now time.Time) (*domain.Idempotency, error) {
	rec, err := GetIdempotency(ctx, s.DB, key, now)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
