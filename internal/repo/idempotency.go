// Package repo implements the data persistence layer for short links.
// This file provides repository helpers for the Idempotency model used to
// implement safe-retry semantics for POST /shorten.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
)

var (
	// ErrDuplicate indicates that a live idempotency record already holds the key.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotFound is returned by GetIdempotency when no live record holds the key.
	ErrNotFound = errors.New("idempotency record not found")
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts rec and returns ErrDuplicate when an unexpired
// record already holds the key. Expired records are replaced.
func CreateIdempotency(ctx context.Context, db *gorm.DB, rec domain.Idempotency) (*domain.Idempotency, error) {
	if err := db.WithContext(ctx).
		Where("key = ? AND expires_at <= ?", rec.Key, rec.CreatedAt).
		Delete(&domain.Idempotency{}).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &rec, nil
}
