package persistence

import (
	"context"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditLedger appends audit events outside of a changeset, for operations that
// were rejected and therefore commit nothing else
type GormAuditLedger struct {
	db *gorm.DB
}

// NewGormAuditLedger creates a new GormAuditLedger
func NewGormAuditLedger(db *gorm.DB) *GormAuditLedger {
	return &GormAuditLedger{db: db}
}

// Record appends the events; nil entries are skipped
func (l *GormAuditLedger) Record(ctx context.Context, events ...*procurement.AuditEvent) error {
	rows := make([]*models.AuditEventModel, 0, len(events))
	for _, e := range events {
		if e != nil {
			rows = append(rows, models.AuditEventModelFromDomain(e))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return l.db.WithContext(ctx).Create(&rows).Error
}

// ListByOrder returns the audit trail of an order in the order it happened
func (l *GormAuditLedger) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*procurement.AuditEvent, error) {
	var rows []models.AuditEventModel
	if err := l.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("occurred_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]*procurement.AuditEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].ToDomain()
	}
	return events, nil
}

var _ procurement.AuditLedger = (*GormAuditLedger)(nil)
