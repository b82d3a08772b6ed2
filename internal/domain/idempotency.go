package domain

import "time"

// Idempotency remembers the outcome of a create request carrying an
// Idempotency-Key so a retried request returns the same link instead of
// allocating a new one.
type Idempotency struct {
	Key       string    `json:"key" gorm:"type:varchar(200);primaryKey"`
	LinkID    string    `json:"link_id" gorm:"type:varchar(64);not null"`
	Status    int       `json:"status" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
