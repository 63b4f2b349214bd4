package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/dronedelivery/domain"
	"example.com/dronedelivery/models"
)

// SagaRepository persists saga records, keyed by saga id and queryable by
// order id and status
type SagaRepository interface {
	Save(ctx context.Context, record *domain.SagaRecord) error
	FindBySagaID(ctx context.Context, sagaID string) (*domain.SagaRecord, error)
	FindByOrderID(ctx context.Context, orderID string) (*domain.SagaRecord, error)
	FindByStatus(ctx context.Context, status domain.SagaStatus) ([]*domain.SagaRecord, error)
}

// GormSagaRepository implements SagaRepository on PostgreSQL
type GormSagaRepository struct {
	db *gorm.DB
}

// NewGormSagaRepository creates a new saga repository
func NewGormSagaRepository(db *gorm.DB) *GormSagaRepository {
	return &GormSagaRepository{db: db}
}

// Save upserts the record by saga id. The update is guarded on the row's
// previous updated_at so that two concurrent read-modify-write cycles for
// the same saga cannot silently overwrite each other.
func (r *GormSagaRepository) Save(ctx context.Context, record *domain.SagaRecord) error {
	row, err := sagaToRow(record)
	if err != nil {
		return err
	}

	var existing models.OrderSaga
	err = r.db.WithContext(ctx).Where("saga_id = ?", record.SagaID).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
				return errors.Wrap(err, "failed to create saga record")
			}
			return nil
		}
		return errors.Wrap(err, "failed to look up saga record")
	}

	result := r.db.WithContext(ctx).
		Model(&models.OrderSaga{}).
		Where("saga_id = ? AND updated_at = ?", record.SagaID, existing.UpdatedAt).
		Updates(map[string]interface{}{
			"status":          row.Status,
			"current_step":    row.CurrentStep,
			"completed_steps": row.CompletedSteps,
			"failure_reason":  row.FailureReason,
			"end_time":        row.EndTime,
			"delivery_id":     row.DeliveryID,
			"drone_id":        row.DroneID,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update saga record")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrUpdateFailed, "concurrent update of saga %s", record.SagaID)
	}

	return nil
}

// FindBySagaID returns the saga with the given id
func (r *GormSagaRepository) FindBySagaID(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	var row models.OrderSaga
	if err := r.db.WithContext(ctx).Where("saga_id = ?", sagaID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find saga")
	}
	return rowToSaga(&row)
}

// FindByOrderID returns the most recent saga for the order. Downstream
// services only know the order id, so all event handling resolves sagas
// through this lookup.
func (r *GormSagaRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.SagaRecord, error) {
	var row models.OrderSaga
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find saga by order")
	}
	return rowToSaga(&row)
}

// FindByStatus returns all sagas in the given status
func (r *GormSagaRepository) FindByStatus(ctx context.Context, status domain.SagaStatus) ([]*domain.SagaRecord, error) {
	var rows []models.OrderSaga
	if err := r.db.WithContext(ctx).Where("status = ?", string(status)).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find sagas by status")
	}

	records := make([]*domain.SagaRecord, 0, len(rows))
	for i := range rows {
		record, err := rowToSaga(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func sagaToRow(record *domain.SagaRecord) (*models.OrderSaga, error) {
	steps, err := json.Marshal(record.CompletedSteps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal completed steps")
	}

	return &models.OrderSaga{
		SagaID:                 record.SagaID,
		OrderID:                record.OrderID,
		Status:                 string(record.Status),
		CurrentStep:            string(record.CurrentStep),
		CompletedSteps:         steps,
		FailureReason:          record.FailureReason,
		StartTime:              record.StartTime,
		EndTime:                record.EndTime,
		CustomerID:             record.Order.CustomerID,
		FromAddress:            record.Order.FromAddress,
		ToAddress:              record.Order.ToAddress,
		PackageWeight:          record.Order.PackageWeight,
		RequestedDeliveryTime:  record.Order.RequestedDeliveryTime,
		MaxDeliveryTimeMinutes: record.Order.MaxDeliveryTimeMinutes,
		DeliveryID:             record.DeliveryID,
		DroneID:                record.DroneID,
	}, nil
}

func rowToSaga(row *models.OrderSaga) (*domain.SagaRecord, error) {
	var steps []domain.SagaStep
	if len(row.CompletedSteps) > 0 {
		if err := json.Unmarshal(row.CompletedSteps, &steps); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal completed steps")
		}
	}

	return &domain.SagaRecord{
		SagaID:         row.SagaID,
		OrderID:        row.OrderID,
		Status:         domain.SagaStatus(row.Status),
		CurrentStep:    domain.SagaStep(row.CurrentStep),
		CompletedSteps: steps,
		FailureReason:  row.FailureReason,
		StartTime:      row.StartTime,
		EndTime:        row.EndTime,
		Order: domain.OrderMessage{
			OrderID:                row.OrderID,
			CustomerID:             row.CustomerID,
			FromAddress:            row.FromAddress,
			ToAddress:              row.ToAddress,
			PackageWeight:          row.PackageWeight,
			RequestedDeliveryTime:  row.RequestedDeliveryTime,
			MaxDeliveryTimeMinutes: row.MaxDeliveryTimeMinutes,
		},
		DeliveryID: row.DeliveryID,
		DroneID:    row.DroneID,
	}, nil
}
