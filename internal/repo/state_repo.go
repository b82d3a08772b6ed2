package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
)

// PutState upserts the state row, overwriting every column.
func PutState(ctx context.Context, db *gorm.DB, st domain.LinkState) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "disabled_at", "updated_at"}),
		}).
		Create(&st).Error
}

// GetState returns the state row, or nil when the link never had one.
func GetState(ctx context.Context, db *gorm.DB, id string) (*domain.LinkState, error) {
	var st domain.LinkState
	err := db.WithContext(ctx).Where("id = ?", id).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
