package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormUnitOfWork commits procurement changesets in one database transaction.
// The order row is guarded by its version column and the order's domain events
// go to the outbox inside the same transaction.
type GormUnitOfWork struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver
}

// NewGormUnitOfWork creates a new GormUnitOfWork. outboxSaver may be nil, in which
// case domain events are dropped after commit.
func NewGormUnitOfWork(db *gorm.DB, outboxSaver shared.OutboxEventSaver) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, outboxSaver: outboxSaver}
}

// Commit writes the changeset atomically
func (u *GormUnitOfWork) Commit(ctx context.Context, cs *procurement.Changeset) error {
	if cs == nil {
		return nil
	}
	o := cs.Order

	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if o != nil {
			switch {
			case o.IsNew():
				if err := u.insertOrder(tx, o); err != nil {
					return err
				}
			case o.IsDirty():
				if err := u.updateOrder(tx, o); err != nil {
					return err
				}
			}
		}

		for _, s := range cs.Steps {
			if err := tx.Save(models.ApprovalStepModelFromDomain(s)).Error; err != nil {
				return fmt.Errorf("failed to save approval step: %w", err)
			}
		}
		for _, a := range cs.Attempts {
			if err := tx.Save(models.IntegrationAttemptModelFromDomain(a)).Error; err != nil {
				return fmt.Errorf("failed to save integration attempt: %w", err)
			}
		}

		if r := cs.Response; r != nil {
			if err := u.insertResponse(tx, r); err != nil {
				return err
			}
		}

		if len(cs.Audit) > 0 {
			rows := make([]*models.AuditEventModel, len(cs.Audit))
			for i, e := range cs.Audit {
				rows[i] = models.AuditEventModelFromDomain(e)
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to append audit events: %w", err)
			}
		}

		if o != nil && u.outboxSaver != nil {
			if events := o.GetDomainEvents(); len(events) > 0 {
				if err := u.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
					return fmt.Errorf("failed to save events to outbox: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if o != nil {
		o.MarkPersisted()
	}
	return nil
}

func (u *GormUnitOfWork) insertOrder(tx *gorm.DB, o *procurement.Order) error {
	model := models.PurchaseOrderModelFromDomain(o)
	if err := tx.Omit("Items").Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			var count int64
			if cerr := tx.Model(&models.PurchaseOrderModel{}).Where("id = ?", o.ID).Count(&count).Error; cerr == nil && count > 0 {
				return procurement.ErrConcurrencyConflict.With("order_id", o.ID.String())
			}
			return procurement.ErrConcurrencyConflict.With("sequence_number", o.SequenceNumber)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if len(model.Items) > 0 {
		if err := tx.Create(&model.Items).Error; err != nil {
			return fmt.Errorf("failed to insert order items: %w", err)
		}
	}
	return nil
}

func (u *GormUnitOfWork) updateOrder(tx *gorm.DB, o *procurement.Order) error {
	result := tx.Model(&models.PurchaseOrderModel{}).
		Where("id = ? AND version = ?", o.ID, o.LoadedVersion()).
		Updates(map[string]interface{}{
			"supplier_ref":            o.SupplierRef,
			"supplier_name":           o.SupplierName,
			"requisition_ref":         o.RequisitionRef,
			"quotation_ref":           o.QuotationRef,
			"type":                    o.Type,
			"status":                  o.Status,
			"currency":                o.Currency,
			"total_amount":            o.TotalAmount,
			"requested_delivery_date": o.RequestedDeliveryDate,
			"payment_terms":           o.PaymentTerms,
			"notes":                   o.Notes,
			"cost_center":             o.CostCenter,
			"approved_by":             o.ApprovedBy,
			"correlation_id":          o.CorrelationID,
			"portal_reference":        o.PortalReference,
			"integration_status":      o.IntegrationStatus,
			"dispatch_attempts":       o.DispatchAttempts,
			"cancel_reason":           o.CancelReason,
			"submitted_at":            o.SubmittedAt,
			"approved_at":             o.ApprovedAt,
			"sent_at":                 o.SentAt,
			"confirmed_at":            o.ConfirmedAt,
			"closed_at":               o.ClosedAt,
			"deleted_at":              o.DeletedAt,
			"version":                 o.Version,
			"updated_at":              o.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return procurement.ErrConcurrencyConflict.With("order_id", o.ID.String())
	}

	itemIDs := make([]uuid.UUID, len(o.Items))
	for i := range o.Items {
		itemIDs[i] = o.Items[i].ID
	}
	del := tx.Where("order_id = ?", o.ID)
	if len(itemIDs) > 0 {
		del = del.Where("id NOT IN ?", itemIDs)
	}
	if err := del.Delete(&models.PurchaseOrderItemModel{}).Error; err != nil {
		return fmt.Errorf("failed to remove order items: %w", err)
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
		if err := tx.Save(models.PurchaseOrderItemModelFromDomain(&o.Items[i])).Error; err != nil {
			return fmt.Errorf("failed to save order item: %w", err)
		}
	}
	return nil
}

func (u *GormUnitOfWork) insertResponse(tx *gorm.DB, r *procurement.SupplierResponse) error {
	model, err := models.SupplierResponseModelFromDomain(r)
	if err != nil {
		return fmt.Errorf("failed to encode supplier response: %w", err)
	}
	if err := tx.Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return procurement.ErrDuplicateMessage.With("message_id", r.MessageID)
		}
		return fmt.Errorf("failed to insert supplier response: %w", err)
	}
	return nil
}

// isUniqueViolation recognises duplicate key errors from postgres and sqlite,
// with or without gorm error translation enabled
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

var _ procurement.UnitOfWork = (*GormUnitOfWork)(nil)
