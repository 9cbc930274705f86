package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormIntegrationAttemptRepository implements procurement.IntegrationAttemptRepository using GORM
type GormIntegrationAttemptRepository struct {
	db *gorm.DB
}

// NewGormIntegrationAttemptRepository creates a new GormIntegrationAttemptRepository
func NewGormIntegrationAttemptRepository(db *gorm.DB) *GormIntegrationAttemptRepository {
	return &GormIntegrationAttemptRepository{db: db}
}

// FindByOrder returns the attempts of an order in creation order
func (r *GormIntegrationAttemptRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*procurement.IntegrationAttempt, error) {
	var attemptModels []models.IntegrationAttemptModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("attempt_number ASC").
		Find(&attemptModels).Error; err != nil {
		return nil, err
	}
	return attemptsToDomain(attemptModels), nil
}

// FindInFlight returns the attempt that is currently sending for the order, or nil
func (r *GormIntegrationAttemptRepository) FindInFlight(ctx context.Context, orderID uuid.UUID) (*procurement.IntegrationAttempt, error) {
	var model models.IntegrationAttemptModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, procurement.AttemptSending).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// LastAttemptNumber returns the highest attempt number recorded for the operation
func (r *GormIntegrationAttemptRepository) LastAttemptNumber(ctx context.Context, orderID uuid.UUID, op procurement.IntegrationOperation) (int, error) {
	var last int
	if err := r.db.WithContext(ctx).
		Model(&models.IntegrationAttemptModel{}).
		Where("order_id = ? AND operation = ?", orderID, op).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&last).Error; err != nil {
		return 0, err
	}
	return last, nil
}

// FindScheduledRetries returns the latest failed delivery attempt of each order waiting for a retry
func (r *GormIntegrationAttemptRepository) FindScheduledRetries(ctx context.Context) ([]*procurement.IntegrationAttempt, error) {
	var attemptModels []models.IntegrationAttemptModel
	if err := r.db.WithContext(ctx).
		Table("integration_attempts").
		Select("integration_attempts.*").
		Joins("JOIN purchase_orders ON purchase_orders.id = integration_attempts.order_id").
		Where("purchase_orders.integration_status = ?", procurement.IntegrationRetryScheduled).
		Where("purchase_orders.deleted_at IS NULL").
		Where("integration_attempts.operation IN ?", []procurement.IntegrationOperation{
			procurement.OperationSendOrder,
			procurement.OperationResend,
		}).
		Where("integration_attempts.status = ?", procurement.AttemptError).
		Order("integration_attempts.order_id ASC").
		Order("integration_attempts.created_at ASC").
		Order("integration_attempts.attempt_number ASC").
		Find(&attemptModels).Error; err != nil {
		return nil, err
	}

	// rows are grouped by order; keep the last one of each group
	var latest []*procurement.IntegrationAttempt
	for i := range attemptModels {
		if i+1 < len(attemptModels) && attemptModels[i+1].OrderID == attemptModels[i].OrderID {
			continue
		}
		latest = append(latest, attemptModels[i].ToDomain())
	}
	return latest, nil
}

// FindStaleInFlight returns sending attempts started before the cutoff
func (r *GormIntegrationAttemptRepository) FindStaleInFlight(ctx context.Context, before time.Time) ([]*procurement.IntegrationAttempt, error) {
	var attemptModels []models.IntegrationAttemptModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", procurement.AttemptSending, before).
		Order("started_at ASC").
		Find(&attemptModels).Error; err != nil {
		return nil, err
	}
	return attemptsToDomain(attemptModels), nil
}

func attemptsToDomain(attemptModels []models.IntegrationAttemptModel) []*procurement.IntegrationAttempt {
	attempts := make([]*procurement.IntegrationAttempt, len(attemptModels))
	for i := range attemptModels {
		attempts[i] = attemptModels[i].ToDomain()
	}
	return attempts
}

var _ procurement.IntegrationAttemptRepository = (*GormIntegrationAttemptRepository)(nil)
