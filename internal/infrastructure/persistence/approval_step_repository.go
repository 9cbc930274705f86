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

// GormApprovalStepRepository implements procurement.ApprovalStepRepository using GORM
type GormApprovalStepRepository struct {
	db *gorm.DB
}

// NewGormApprovalStepRepository creates a new GormApprovalStepRepository
func NewGormApprovalStepRepository(db *gorm.DB) *GormApprovalStepRepository {
	return &GormApprovalStepRepository{db: db}
}

// FindByID finds an approval step by its ID
func (r *GormApprovalStepRepository) FindByID(ctx context.Context, id uuid.UUID) (*procurement.ApprovalStep, error) {
	var model models.ApprovalStepModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, procurement.ErrStepNotFound.With("step_id", id.String())
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrder returns the steps of an order ordered by level then original approver
func (r *GormApprovalStepRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*procurement.ApprovalStep, error) {
	var stepModels []models.ApprovalStepModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("level ASC").
		Order("original_approver ASC").
		Find(&stepModels).Error; err != nil {
		return nil, err
	}
	return stepsToDomain(stepModels), nil
}

// FindDueForExpiry returns active pending steps whose expiration is at or before now
func (r *GormApprovalStepRepository) FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*procurement.ApprovalStep, error) {
	if limit <= 0 {
		limit = 100
	}
	var stepModels []models.ApprovalStepModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", procurement.StepPending).
		Where("requested_at IS NOT NULL").
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&stepModels).Error; err != nil {
		return nil, err
	}
	return stepsToDomain(stepModels), nil
}

func stepsToDomain(stepModels []models.ApprovalStepModel) []*procurement.ApprovalStep {
	steps := make([]*procurement.ApprovalStep, len(stepModels))
	for i := range stepModels {
		steps[i] = stepModels[i].ToDomain()
	}
	return steps
}

var _ procurement.ApprovalStepRepository = (*GormApprovalStepRepository)(nil)
