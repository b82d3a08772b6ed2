package repo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
)

// ReadSequence returns the current value of the named counter. A missing row
// reads as zero; the first CompareAndSwapSequence seeds it.
func ReadSequence(ctx context.Context, db *gorm.DB, name string) (uint64, error) {
	var row domain.SequenceCounter
	err := db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if row.CurrentValue < 0 {
		return 0, fmt.Errorf("sequence %q holds negative value %d", name, row.CurrentValue)
	}
	return uint64(row.CurrentValue), nil
}

// CompareAndSwapSequence updates the counter to next only when it still holds
// expected. It reports whether the row was changed.
func CompareAndSwapSequence(ctx context.Context, db *gorm.DB, name string, expected, next uint64) (bool, error) {
	if next > math.MaxInt64 || expected > math.MaxInt64 {
		return false, fmt.Errorf("sequence %q overflow", name)
	}
	if expected == 0 {
		if err := EnsureSequence(ctx, db, name); err != nil {
			return false, err
		}
	}
	res := db.WithContext(ctx).
		Model(&domain.SequenceCounter{}).
		Where("name = ? AND current_value = ?", name, int64(expected)).
		Update("current_value", int64(next))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
