package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements procurement.OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByID finds an order by its ID. Archived orders are reported as not found.
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*procurement.Order, error) {
	var model models.PurchaseOrderModel
	if err := r.withItems(r.db.WithContext(ctx)).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, procurement.ErrOrderNotFound.With("order_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByCorrelationID finds the order a portal message refers to
func (r *GormOrderRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*procurement.Order, error) {
	var model models.PurchaseOrderModel
	if correlationID == "" {
		return nil, procurement.ErrOrderNotFound.With("correlation_id", correlationID)
	}
	if err := r.withItems(r.db.WithContext(ctx)).
		Where("correlation_id = ? AND deleted_at IS NULL", correlationID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, procurement.ErrOrderNotFound.With("correlation_id", correlationID)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists orders matching the filter and returns the unpaginated total
func (r *GormOrderRepository) FindAll(ctx context.Context, filter procurement.OrderFilter) ([]*procurement.Order, int64, error) {
	query := r.applyFilterWithoutPagination(r.db.WithContext(ctx).Model(&models.PurchaseOrderModel{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortField := ValidateSortField(filter.OrderBy, OrderSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)

	var orderModels []models.PurchaseOrderModel
	if err := r.withItems(query).
		Order(sortField + " " + sortOrder).
		Order("id ASC").
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&orderModels).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*procurement.Order, len(orderModels))
	for i := range orderModels {
		orders[i] = orderModels[i].ToDomain()
	}
	return orders, total, nil
}

// GenerateSequenceNumber issues the next PO-YYYYMMDD-NNNNNN number for the UTC day of now.
// The daily counter row is upserted so concurrent callers never receive the same number.
func (r *GormOrderRepository) GenerateSequenceNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	var counter int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.SequenceCounterModel{Day: day, Counter: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"counter": gorm.Expr("order_sequence_counters.counter + 1"),
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&models.SequenceCounterModel{}).
			Where("day = ?", day).
			Select("counter").
			Scan(&counter).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate sequence number: %w", err)
	}
	return fmt.Sprintf("PO-%s-%06d", day, counter), nil
}

func (r *GormOrderRepository) withItems(query *gorm.DB) *gorm.DB {
	return query.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	})
}

func (r *GormOrderRepository) applyFilterWithoutPagination(query *gorm.DB, filter procurement.OrderFilter) *gorm.DB {
	if !filter.IncludeArchived {
		query = query.Where("deleted_at IS NULL")
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.SupplierRef != "" {
		query = query.Where("supplier_ref = ?", filter.SupplierRef)
	}
	if filter.CostCenter != "" {
		query = query.Where("cost_center = ?", filter.CostCenter)
	}

	for key, value := range filter.Filters {
		switch key {
		case "statuses":
			if statuses, ok := value.([]string); ok && len(statuses) > 0 {
				query = query.Where("status IN ?", statuses)
			}
		case "integration_status":
			query = query.Where("integration_status = ?", value)
		case "created_from":
			if t, ok := value.(time.Time); ok {
				query = query.Where("created_at >= ?", t)
			}
		case "created_to":
			if t, ok := value.(time.Time); ok {
				query = query.Where("created_at <= ?", t)
			}
		}
	}
	return query
}

var _ procurement.OrderRepository = (*GormOrderRepository)(nil)
