package domain

import (
	"testing"
	"time"
)

func TestIdempotency_MigrationAndPrimaryKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasTable("idempotency") {
		t.Fatalf("idempotency table missing")
	}

	now := time.Now().UTC()
	rec := Idempotency{Key: "k-1", LinkID: "abcde", Status: 201, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := rec
	dup.LinkID = "other"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected duplicate key error")
	}

	var got Idempotency
	if err := db.First(&got, "key = ?", "k-1").Error; err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.LinkID != "abcde" || got.Status != 201 {
		t.Fatalf("got %+v", got)
	}
}
