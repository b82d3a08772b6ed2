package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/ident"
	"github.com/tbourn/go-shortlink-backend/internal/repo"
	"github.com/tbourn/go-shortlink-backend/internal/retry"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

var errBoom = errors.New("boom")

// newTestStore opens a migrated SQLite store with a single connection so
// background ledger writes never contend for the file lock.
func newTestStore(t *testing.T) *repo.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewStore(db)
}

// faultyStore wraps a real store and injects failures.
type faultyStore struct {
	store.Store

	casLosses   atomic.Int32 // CAS calls to report as lost before delegating
	casCalls    atomic.Int32
	readErr     error
	putStateErr error
	indexErr    error
	metaErr     error
	conflict    *domain.ShortLink // returned as Conflict instead of inserting
}

func (f *faultyStore) ReadSequence(ctx context.Context, name string) (uint64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.Store.ReadSequence(ctx, name)
}

func (f *faultyStore) CompareAndSwapSequence(ctx context.Context, name string, expected, next uint64) (bool, error) {
	f.casCalls.Add(1)
	if f.casLosses.Load() > 0 {
		f.casLosses.Add(-1)
		// A competing writer advances the counter first.
		if _, err := f.Store.CompareAndSwapSequence(ctx, name, expected, next); err != nil {
			return false, err
		}
		return false, nil
	}
	return f.Store.CompareAndSwapSequence(ctx, name, expected, next)
}

func (f *faultyStore) InsertLinkIfAbsent(ctx context.Context, l domain.ShortLink) (store.InsertResult, error) {
	if f.conflict != nil {
		return store.Conflict{Existing: *f.conflict}, nil
	}
	return f.Store.InsertLinkIfAbsent(ctx, l)
}

func (f *faultyStore) PutState(ctx context.Context, st domain.LinkState) error {
	if f.putStateErr != nil {
		return f.putStateErr
	}
	return f.Store.PutState(ctx, st)
}

func (f *faultyStore) InsertIndexEntry(ctx context.Context, e domain.OrderedIndexEntry) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	return f.Store.InsertIndexEntry(ctx, e)
}

func (f *faultyStore) InsertCreateMetaIfAbsent(ctx context.Context, m domain.CreateMeta, ttl time.Duration) (bool, error) {
	if f.metaErr != nil {
		return false, f.metaErr
	}
	return f.Store.InsertCreateMetaIfAbsent(ctx, m, ttl)
}

func fastPolicy() retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond, Jitter: 0, MaxAttempts: 5}
}

type fixture struct {
	store  store.Store
	svc    *LinkService
	ledger *Ledger
	clock  *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	ledger := NewLedger(s)
	ledger.Now = clock.Now
	svc := NewLinkService(s, ident.MustCodec(), ledger)
	svc.Allocator = &SequenceAllocator{Store: s, Name: store.SequenceName, Policy: fastPolicy()}
	svc.Now = clock.Now
	t.Cleanup(func() { _ = ledger.Wait(context.Background()) })
	return &fixture{store: s, svc: svc, ledger: ledger, clock: clock}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.ledger.Wait(ctx); err != nil {
		t.Fatalf("ledger wait: %v", err)
	}
}

// createLogs reads the create audit trail through the ledger.
func createLogs(t *testing.T, fx *fixture, id string) []domain.CreateAuditEntry {
	t.Helper()
	logs, err := fx.ledger.ListCreateLogsRecent(context.Background(), id, maxAuditLogs)
	if err != nil {
		t.Fatalf("list create logs: %v", err)
	}
	return logs
}
