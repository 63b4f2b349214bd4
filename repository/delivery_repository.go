package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/dronedelivery/models"
)

// DeliveryRepository persists scheduled deliveries
type DeliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create stores a new delivery
func (r *DeliveryRepository) Create(ctx context.Context, delivery *models.Delivery) error {
	if err := r.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return errors.Wrap(err, "failed to create delivery")
	}
	return nil
}

// GetByDeliveryID returns the delivery with the given id
func (r *DeliveryRepository) GetByDeliveryID(ctx context.Context, deliveryID string) (*models.Delivery, error) {
	var delivery models.Delivery
	if err := r.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&delivery).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find delivery")
	}
	return &delivery, nil
}

// MarkCancelled marks the delivery as cancelled
func (r *DeliveryRepository) MarkCancelled(ctx context.Context, deliveryID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("delivery_id = ?", deliveryID).
		Update("status", models.DeliveryStatusCancelled)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to cancel delivery")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
