// Package app assembles the initialization-time handles shared by the server
// and the operator CLI: the configured store backend, the id codec and the
// link services. Nothing here is mutated after New returns.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-backend/internal/config"
	"github.com/tbourn/go-shortlink-backend/internal/ident"
	"github.com/tbourn/go-shortlink-backend/internal/repo"
	"github.com/tbourn/go-shortlink-backend/internal/repo/redisrepo"
	"github.com/tbourn/go-shortlink-backend/internal/retry"
	"github.com/tbourn/go-shortlink-backend/internal/services"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

// App bundles the wired dependencies.
type App struct {
	Config config.Config
	Store  store.Store
	Links  *services.LinkService
	Ledger *services.Ledger

	// DB is set for the SQL backends and nil for Redis.
	DB *gorm.DB
}

// OpenStore connects the backend selected by cfg.Backend. SQL backends are
// migrated and get their sequence row seeded; the returned *gorm.DB is nil
// for Redis.
func OpenStore(cfg config.StoreConfig) (store.Store, *gorm.DB, error) {
	switch cfg.Backend {
	case "redis":
		s := redisrepo.New(redisrepo.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		return s, nil, nil
	case "", "sqlite", "postgres":
		dsn := cfg.DBPath
		if cfg.Backend == "postgres" {
			dsn = cfg.PostgresDSN
		}
		db, err := repo.Open(repo.Options{Driver: cfg.Backend, DSN: dsn, Tracing: cfg.Tracing})
		if err != nil {
			return nil, nil, err
		}
		if err := repo.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repo.NewStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// New opens the store and wires the services from cfg. An unreachable store
// is logged, not fatal; /readyz reports it until it comes back.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	st, db, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("backend", cfg.Store.Backend).Msg("store not reachable yet")
	}
	a, err := Wire(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.DB = db
	return a, nil
}

// Wire builds the services over an already opened store.
func Wire(cfg config.Config, st store.Store) (*App, error) {
	codec, err := ident.NewCodec()
	if err != nil {
		return nil, fmt.Errorf("id codec: %w", err)
	}

	ledger := services.NewLedger(st)
	if cfg.Links.AuditTTL > 0 {
		ledger.TTL = cfg.Links.AuditTTL
	}
	if cfg.Links.LedgerTimeout > 0 {
		ledger.Timeout = cfg.Links.LedgerTimeout
	}

	links := services.NewLinkService(st, codec, ledger)
	if cfg.Links.IndexBucket != "" {
		links.Bucket = cfg.Links.IndexBucket
	}
	if cfg.Links.RedirectStatus != 0 {
		links.RedirectStatus = cfg.Links.RedirectStatus
	}
	links.Allocator = &services.SequenceAllocator{
		Store:  st,
		Name:   store.SequenceName,
		Policy: allocatorPolicy(cfg.Links),
	}

	return &App{Config: cfg, Store: st, Links: links, Ledger: ledger}, nil
}

func allocatorPolicy(lc config.LinkConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if lc.SeqRetryBaseDelay > 0 {
		p.BaseDelay = lc.SeqRetryBaseDelay
	}
	if lc.SeqRetryMaxDelay > 0 {
		p.MaxDelay = lc.SeqRetryMaxDelay
	}
	if lc.SeqRetryMaxAttempts > 0 {
		p.MaxAttempts = uint(lc.SeqRetryMaxAttempts)
	}
	return p
}

// Backfiller returns the index reconciler for this app, guarded by a file
// lock when BACKFILL_LOCK_PATH is set.
func (a *App) Backfiller() *services.Backfiller {
	b := &services.Backfiller{
		Repo:     a.Store,
		Bucket:   a.Links.Bucket,
		LockWait: 5 * time.Second,
	}
	if p := a.Config.Links.BackfillLockPath; p != "" {
		b.Lock = flock.New(p)
	}
	return b
}

// StartupBackfill runs the reconciler once and only logs failures; startup
// never depends on it.
func (a *App) StartupBackfill(ctx context.Context) {
	if !a.Config.Links.BackfillOnStart {
		return
	}
	rep, err := a.Backfiller().Run(ctx, false)
	switch {
	case errors.Is(err, services.ErrBackfillLocked):
		log.Info().Msg("backfill skipped: lock held elsewhere")
	case err != nil:
		log.Error().Err(err).Str("op", "backfill").Msg("startup backfill failed")
	case rep.Skipped:
		log.Debug().Msg("backfill skipped: index populated")
	default:
		log.Info().
			Int("scanned", rep.Scanned).
			Int("inserted", rep.Inserted).
			Int("failed", rep.Failed).
			Msg("startup backfill done")
	}
}

// RunSweeper purges expired audit, meta and idempotency rows until ctx ends.
// Redis expires keys natively, so it returns at once there.
func (a *App) RunSweeper(ctx context.Context) {
	if a.DB == nil {
		return
	}
	(&repo.Sweeper{DB: a.DB, Interval: a.Config.Links.SweepInterval}).Run(ctx)
}

// Close waits for in-flight ledger writes, bounded by ctx, then closes the store.
func (a *App) Close(ctx context.Context) error {
	werr := a.Ledger.Wait(ctx)
	cerr := a.Store.Close()
	return errors.Join(werr, cerr)
}
