package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/observability"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

// ErrBackfillLocked means another process holds the backfill lock.
var ErrBackfillLocked = errors.New("backfill lock held by another process")

// Locker is a cross-process mutex; *flock.Flock satisfies it.
type Locker interface {
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)
	Unlock() error
}

// BackfillRepo is what the reconciler needs from the store.
type BackfillRepo interface {
	store.LinkStore
	store.IndexStore
}

// BackfillReport summarizes one run. Inserted counts index writes issued;
// entries that already existed are left untouched by the store.
type BackfillReport struct {
	Skipped  bool
	Scanned  int
	Inserted int
	Failed   int
}

// Backfiller populates the ordered index from the primary link table.
type Backfiller struct {
	Repo   BackfillRepo
	Bucket string

	// Lock, when set, serializes runs across processes.
	Lock     Locker
	LockWait time.Duration
}

// Run rebuilds the index when it is empty, or unconditionally when force is
// set. Rows that fail are logged and counted; the scan continues.
func (b *Backfiller) Run(ctx context.Context, force bool) (BackfillReport, error) {
	bucket := b.Bucket
	if bucket == "" {
		bucket = store.DefaultBucket
	}
	ctx, span := otel.Tracer("services/Backfiller").Start(ctx, "Run",
		trace.WithAttributes(attribute.String("index.bucket", bucket), attribute.Bool("force", force)),
	)
	defer span.End()

	if b.Lock != nil {
		wait := b.LockWait
		if wait <= 0 {
			wait = 10 * time.Second
		}
		lctx, cancel := context.WithTimeout(ctx, wait)
		ok, err := b.Lock.TryLockContext(lctx, 100*time.Millisecond)
		cancel()
		if err != nil && ctx.Err() != nil {
			return BackfillReport{}, ctx.Err()
		}
		if err != nil || !ok {
			return BackfillReport{}, ErrBackfillLocked
		}
		defer func() {
			if err := b.Lock.Unlock(); err != nil {
				log.Warn().Err(err).Msg("backfill unlock failed")
			}
		}()
	}

	var rep BackfillReport
	if !force {
		has, err := b.Repo.HasIndexEntries(ctx, bucket)
		if err != nil {
			return rep, storeErr("probe index", err)
		}
		if has {
			rep.Skipped = true
			log.Info().Str("bucket", bucket).Msg("ordered index populated, backfill skipped")
			return rep, nil
		}
	}

	err := b.Repo.ScanLinks(ctx, func(l domain.ShortLink) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Scanned++
		if err := b.Repo.InsertIndexEntry(ctx, domain.IndexEntryFor(bucket, l)); err != nil {
			rep.Failed++
			observability.BackfillRows.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("op", "backfill").Str("link_id", l.ID).Msg("index insert failed")
			return nil
		}
		rep.Inserted++
		observability.BackfillRows.WithLabelValues("inserted").Inc()
		return nil
	})
	span.SetAttributes(
		attribute.Int("backfill.scanned", rep.Scanned),
		attribute.Int("backfill.failed", rep.Failed),
	)
	if err != nil {
		return rep, storeErr("scan links", fmt.Errorf("after %d rows: %w", rep.Scanned, err))
	}
	log.Info().
		Str("bucket", bucket).
		Int("scanned", rep.Scanned).
		Int("inserted", rep.Inserted).
		Int("failed", rep.Failed).
		Msg("ordered index backfill finished")
	return rep, nil
}
