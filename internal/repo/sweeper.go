package repo

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
)

// PurgeExpired deletes TTL-bound rows whose expiry is at or before now and
// returns how many rows were removed. SQL engines lack per-row TTL, so this
// stands in for the store's passive expiry.
func PurgeExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var total int64
	for _, model := range []any{
		&domain.CreateAuditEntry{},
		&domain.AccessAuditEntry{},
		&domain.CreateMeta{},
		&domain.Idempotency{},
	} {
		res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// Sweeper runs PurgeExpired on a fixed interval until its context ends.
type Sweeper struct {
	DB       *gorm.DB
	Interval time.Duration
	Now      func() time.Time
}

// Run blocks until ctx is done. A non-positive interval returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	now := s.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := PurgeExpired(ctx, s.DB, now())
			if err != nil {
				log.Warn().Err(err).Msg("ttl sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("ttl sweep")
			}
		}
	}
}
