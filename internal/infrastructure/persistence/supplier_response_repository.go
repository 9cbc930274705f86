package persistence

import (
	"context"
	"errors"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSupplierResponseRepository implements procurement.SupplierResponseRepository using GORM
type GormSupplierResponseRepository struct {
	db *gorm.DB
}

// NewGormSupplierResponseRepository creates a new GormSupplierResponseRepository
func NewGormSupplierResponseRepository(db *gorm.DB) *GormSupplierResponseRepository {
	return &GormSupplierResponseRepository{db: db}
}

// FindByMessage looks a stored response up by correlation id and message id
func (r *GormSupplierResponseRepository) FindByMessage(ctx context.Context, correlationID, messageID string) (*procurement.SupplierResponse, error) {
	var model models.SupplierResponseModel
	if err := r.db.WithContext(ctx).
		Where("correlation_id = ? AND message_id = ?", correlationID, messageID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, procurement.ErrResponseNotFound.With("message_id", messageID)
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByOrder returns the responses applied to an order, oldest first
func (r *GormSupplierResponseRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*procurement.SupplierResponse, error) {
	var responseModels []models.SupplierResponseModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("received_at ASC").
		Find(&responseModels).Error; err != nil {
		return nil, err
	}
	responses := make([]*procurement.SupplierResponse, 0, len(responseModels))
	for i := range responseModels {
		resp, err := responseModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

var _ procurement.SupplierResponseRepository = (*GormSupplierResponseRepository)(nil)
