// Package domain defines the core persistence models for the application.
// These types are used by GORM for schema mapping, serialized as JSON by the
// key-value backend, and shared across the repository and service layers.
package domain

import "time"

// ShortLink is the canonical record for a short code. It is written once by
// the winning create and never updated or deleted afterwards.
type ShortLink struct {
	ID        string     `json:"id" gorm:"type:varchar(64);primaryKey"`
	TargetURL string     `json:"target_url" gorm:"column:target_url;type:text;not null"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TableName implements the GORM tabler interface.
func (ShortLink) TableName() string { return "short_links" }

// Expired reports whether the link has an expiry at or before now.
func (l ShortLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// LinkState carries the mutable enable/disable flag of a link. A missing row
// means the link is enabled.
type LinkState struct {
	ID         string     `json:"id" gorm:"type:varchar(64);primaryKey"`
	Enabled    bool       `json:"enabled" gorm:"not null"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"not null;autoUpdateTime:false"`
}

// TableName implements the GORM tabler interface.
func (LinkState) TableName() string { return "link_states" }

// LastAccess records the most recent redirect resolution of a link.
type LastAccess struct {
	ID             string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	LastAccessAt   time.Time `json:"last_access_at" gorm:"not null"`
	LastStatusCode int       `json:"last_status_code" gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (LastAccess) TableName() string { return "link_last_access" }

// CreateAuditEntry is one append-only row describing a create request.
// ExpiresAt emulates the store TTL on backends without native row expiry.
type CreateAuditEntry struct {
	RowID     uint64    `json:"-" gorm:"column:row_id;primaryKey;autoIncrement"`
	LinkID    string    `json:"id" gorm:"type:varchar(64);not null;index:idx_create_logs_link_ts,priority:1"`
	Timestamp time.Time `json:"ts" gorm:"column:ts;not null;index:idx_create_logs_link_ts,priority:2,sort:desc"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	TargetURL string    `json:"target_url" gorm:"column:target_url;type:text"`
	RequestID string    `json:"request_id"`
	ExpiresAt time.Time `json:"-" gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (CreateAuditEntry) TableName() string { return "link_create_logs" }

// AccessAuditEntry is one append-only row describing a redirect resolution.
type AccessAuditEntry struct {
	RowID      uint64    `json:"-" gorm:"column:row_id;primaryKey;autoIncrement"`
	LinkID     string    `json:"id" gorm:"type:varchar(64);not null;index:idx_access_logs_link_ts,priority:1"`
	Timestamp  time.Time `json:"ts" gorm:"column:ts;not null;index:idx_access_logs_link_ts,priority:2,sort:desc"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	RequestID  string    `json:"request_id"`
	StatusCode int       `json:"status_code"`
	ExpiresAt  time.Time `json:"-" gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (AccessAuditEntry) TableName() string { return "link_access_logs" }

// CreateMeta holds the metadata of the first request that created a link.
type CreateMeta struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	RequestID string    `json:"request_id"`
	ExpiresAt time.Time `json:"-" gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (CreateMeta) TableName() string { return "link_create_meta" }

// SequenceCounter is the single named counter advanced by compare-and-swap.
type SequenceCounter struct {
	Name         string `gorm:"type:varchar(64);primaryKey"`
	CurrentValue int64  `gorm:"not null;default:0"`
}

// TableName implements the GORM tabler interface.
func (SequenceCounter) TableName() string { return "id_sequences" }

// OrderedIndexEntry is the denormalized, recency-sorted copy of a ShortLink.
// Rows sort by (CreatedNS desc, ID asc) inside one Bucket.
type OrderedIndexEntry struct {
	Bucket    string     `json:"bucket" gorm:"type:varchar(32);primaryKey"`
	CreatedNS int64      `json:"-" gorm:"column:created_ns;primaryKey;autoIncrement:false"`
	ID        string     `json:"id" gorm:"type:varchar(64);primaryKey"`
	TargetURL string     `json:"target_url" gorm:"column:target_url;type:text;not null"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TableName implements the GORM tabler interface.
func (OrderedIndexEntry) TableName() string { return "link_index" }

// IndexEntryFor builds the index row for a link in the given bucket.
func IndexEntryFor(bucket string, l ShortLink) OrderedIndexEntry {
	return OrderedIndexEntry{
		Bucket:    bucket,
		CreatedNS: l.CreatedAt.UnixNano(),
		ID:        l.ID,
		TargetURL: l.TargetURL,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
	}
}

// Link converts an index row back into the ShortLink it mirrors.
func (e OrderedIndexEntry) Link() ShortLink {
	return ShortLink{
		ID:        e.ID,
		TargetURL: e.TargetURL,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}
