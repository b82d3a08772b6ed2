// Package repo implements the SQL persistence layer for short links, backed
// by GORM. The same code serves SQLite (pure Go driver) and PostgreSQL; each
// helper issues single-row statements only, mirroring the primitives of a
// leaderless store. This file contains database bootstrapping and migrations.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

// Options selects and tunes the SQL dialect.
type Options struct {
	Driver  string // "sqlite" or "postgres"
	DSN     string // file path for sqlite, connection string for postgres
	Tracing bool   // install the GORM OpenTelemetry plugin
	Verbose bool   // log every statement
}

// Open connects to the configured database, applies pool settings and, when
// requested, installs query tracing.
func Open(opts Options) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		db, err = OpenSQLite(opts.DSN)
	case "postgres", "postgresql":
		db, err = OpenPostgres(opts.DSN)
	default:
		return nil, fmt.Errorf("repo: unsupported driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		db.Logger = newGormLogger(logger.Info)
	}
	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("repo: install tracing: %w", err)
		}
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	pool(db, 10)
	return db, nil
}

// OpenPostgres connects through pgx using the given DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("repo: postgres DSN is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	pool(db, 25)
	return db, nil
}

func pool(db *gorm.DB, maxOpen int) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
}

// AutoMigrate creates every table and seeds the id counter row.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.ShortLink{},
		&domain.LinkState{},
		&domain.LastAccess{},
		&domain.CreateAuditEntry{},
		&domain.AccessAuditEntry{},
		&domain.CreateMeta{},
		&domain.SequenceCounter{},
		&domain.OrderedIndexEntry{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	return EnsureSequence(context.Background(), db, store.SequenceName)
}

// EnsureSequence seeds the named counter at zero unless it already exists.
func EnsureSequence(ctx context.Context, db *gorm.DB, name string) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.SequenceCounter{Name: name, CurrentValue: 0}).Error
}
