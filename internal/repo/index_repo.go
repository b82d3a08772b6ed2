package repo

import (
	"context"
	"encoding/binary"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-shortlink-backend/internal/domain"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

const cursorVersion byte = 1

// InsertIndexEntry writes e unless the (bucket, created_ns, id) row exists.
func InsertIndexEntry(ctx context.Context, db *gorm.DB, e domain.OrderedIndexEntry) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&e).Error
}

// HasIndexEntries reports whether bucket holds at least one row.
func HasIndexEntries(ctx context.Context, db *gorm.DB, bucket string) (bool, error) {
	var e domain.OrderedIndexEntry
	err := db.WithContext(ctx).Select("bucket").Where("bucket = ?", bucket).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ScanIndexPage performs one keyset read of at most limit rows, newest first.
// It asks for limit+1 rows to learn whether another page exists.
func ScanIndexPage(ctx context.Context, db *gorm.DB, bucket string, limit int, cursor []byte) ([]domain.OrderedIndexEntry, []byte, error) {
	q := db.WithContext(ctx).Where("bucket = ?", bucket)
	if len(cursor) > 0 {
		ns, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, nil, err
		}
		q = q.Where("(created_ns < ?) OR (created_ns = ? AND id > ?)", ns, ns, id)
	}

	var rows []domain.OrderedIndexEntry
	if err := q.Order("created_ns DESC").Order("id ASC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) <= limit {
		return rows, nil, nil
	}
	rows = rows[:limit]
	last := rows[len(rows)-1]
	return rows, encodeCursor(last.CreatedNS, last.ID), nil
}

// encodeCursor packs the keyset position: version, created_ns (big endian), id.
func encodeCursor(ns int64, id string) []byte {
	b := make([]byte, 0, 9+len(id))
	b = append(b, cursorVersion)
	b = binary.BigEndian.AppendUint64(b, uint64(ns))
	return append(b, id...)
}

func decodeCursor(b []byte) (int64, string, error) {
	if len(b) < 10 || b[0] != cursorVersion {
		return 0, "", store.ErrInvalidCursor
	}
	ns := int64(binary.BigEndian.Uint64(b[1:9]))
	return ns, string(b[9:]), nil
}
