// Package repo implements the data persistence layer for short links.
// This file provides the conditional insert and reads of the canonical
// ShortLink rows.
//
// Error semantics:
//   - A missing link is reported as (nil, nil), never gorm.ErrRecordNotFound.
//   - A conflicting insert is not an error; it yields store.Conflict with the
//     row that won.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

// scanBatch bounds memory while walking the whole links table.
const scanBatch = 500

// InsertLinkIfAbsent writes link with ON CONFLICT DO NOTHING. When no row was
// affected it reads back the stored row and returns it as a Conflict.
func InsertLinkIfAbsent(ctx context.Context, db *gorm.DB, link domain.ShortLink) (store.InsertResult, error) {
	row := link
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&row)
	if err := res.Error; err != nil {
		if !isDuplicate(err) {
			return nil, err
		}
	} else if res.RowsAffected == 1 {
		return store.Applied{Link: link}, nil
	}

	existing, err := GetLink(ctx, db, link.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("insert %q not applied but no row found: %w", link.ID, store.ErrProtocolViolation)
	}
	return store.Conflict{Existing: *existing}, nil
}

// GetLink returns the link with the given id, or nil when absent.
func GetLink(ctx context.Context, db *gorm.DB, id string) (*domain.ShortLink, error) {
	var l domain.ShortLink
	err := db.WithContext(ctx).Where("id = ?", id).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ScanLinks visits every link in primary-key batches.
func ScanLinks(ctx context.Context, db *gorm.DB, fn func(domain.ShortLink) error) error {
	var batch []domain.ShortLink
	var fnErr error
	res := db.WithContext(ctx).FindInBatches(&batch, scanBatch, func(tx *gorm.DB, _ int) error {
		for _, l := range batch {
			if err := fn(l); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return res.Error
}

// isDuplicate recognizes unique violations across drivers. glebarez/sqlite
// often returns plain-text errors for UNIQUE violations.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
