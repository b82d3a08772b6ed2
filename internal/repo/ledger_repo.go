package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
)

// AppendCreateLog inserts a create audit row living for ttl.
func AppendCreateLog(ctx context.Context, db *gorm.DB, e domain.CreateAuditEntry, ttl time.Duration) error {
	e.RowID = 0
	e.ExpiresAt = e.Timestamp.Add(ttl)
	return db.WithContext(ctx).Create(&e).Error
}

// AppendAccessLog inserts an access audit row living for ttl.
func AppendAccessLog(ctx context.Context, db *gorm.DB, e domain.AccessAuditEntry, ttl time.Duration) error {
	e.RowID = 0
	e.ExpiresAt = e.Timestamp.Add(ttl)
	return db.WithContext(ctx).Create(&e).Error
}

// ListAccessLogs returns up to limit unexpired access rows for id, newest first.
func ListAccessLogs(ctx context.Context, db *gorm.DB, id string, limit int, now time.Time) ([]domain.AccessAuditEntry, error) {
	var out []domain.AccessAuditEntry
	err := db.WithContext(ctx).
		Where("link_id = ? AND expires_at > ?", id, now).
		Order("ts DESC").Order("row_id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListCreateLogs returns up to limit unexpired create rows for id, newest first.
func ListCreateLogs(ctx context.Context, db *gorm.DB, id string, limit int, now time.Time) ([]domain.CreateAuditEntry, error) {
	var out []domain.CreateAuditEntry
	err := db.WithContext(ctx).
		Where("link_id = ? AND expires_at > ?", id, now).
		Order("ts DESC").Order("row_id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PutLastAccess overwrites the last-access row for the link.
func PutLastAccess(ctx context.Context, db *gorm.DB, la domain.LastAccess) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_access_at", "last_status_code"}),
		}).
		Create(&la).Error
}

// GetLastAccess returns the last-access row, or nil when the link was never resolved.
func GetLastAccess(ctx context.Context, db *gorm.DB, id string) (*domain.LastAccess, error) {
	var la domain.LastAccess
	err := db.WithContext(ctx).Where("id = ?", id).Take(&la).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &la, nil
}

// InsertCreateMetaIfAbsent stores m unless an unexpired row for the id exists.
// An expired row is removed first so it behaves as if the TTL had purged it.
func InsertCreateMetaIfAbsent(ctx context.Context, db *gorm.DB, m domain.CreateMeta, ttl time.Duration) (bool, error) {
	m.ExpiresAt = m.CreatedAt.Add(ttl)
	if err := db.WithContext(ctx).
		Where("id = ? AND expires_at <= ?", m.ID, m.CreatedAt).
		Delete(&domain.CreateMeta{}).Error; err != nil {
		return false, err
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetCreateMeta returns the unexpired creator metadata, or nil.
func GetCreateMeta(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.CreateMeta, error) {
	var m domain.CreateMeta
	err := db.WithContext(ctx).Where("id = ? AND expires_at > ?", id, now).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
