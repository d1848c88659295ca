package notify

import (
	"context"

	"github.com/mmdatafocus/restore_backend/config"
	"github.com/mmdatafocus/restore_backend/models"
	"github.com/mmdatafocus/restore_backend/restore"
	"gorm.io/gorm"
)

// AuditSink appends each event to the restore_events table. Events emitted
// before the database connects are skipped.
type AuditSink struct {
	DB func() *gorm.DB
}

func NewAuditSink() *AuditSink {
	return &AuditSink{DB: config.GetDB}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Emit(ctx context.Context, ev restore.Event) error {
	db := s.DB()
	if db == nil {
		return nil
	}
	return models.CreateRestoreEvent(ctx, db, ToRestoreEvent(ev))
}

func ToRestoreEvent(ev restore.Event) *models.RestoreEvent {
	return &models.RestoreEvent{
		ClientId:   ev.ClientId,
		Kind:       string(ev.Kind),
		Username:   ev.Username,
		Uid:        ev.Uid,
		IP:         ev.IP,
		ProductId:  ev.ProductId,
		Note:       ev.Note,
		Payload:    ev.Payload,
		OccurredAt: ev.OccurredAt,
	}
}
