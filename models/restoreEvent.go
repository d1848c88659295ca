package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RestoreEvent is one append-only audit row per notification emitted by the worker.
type RestoreEvent struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	ClientId   string    `gorm:"size:64;not null;index" json:"client_id"`
	Kind       string    `gorm:"size:20;not null;index" json:"kind"`
	Username   string    `gorm:"size:255;not null;index" json:"username"`
	Uid        string    `gorm:"size:128" json:"uid"`
	IP         string    `gorm:"size:64" json:"ip"`
	ProductId  string    `gorm:"size:128" json:"product_id"`
	Note       string    `gorm:"type:text" json:"note"`
	Payload    []byte    `gorm:"type:blob" json:"payload"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func CreateRestoreEvent(ctx context.Context, db *gorm.DB, ev *RestoreEvent) error {
	if db == nil {
		return errors.New("database not connected")
	}
	return db.WithContext(ctx).Create(ev).Error
}
