package repository

import (
	"context"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository is the idempotency gate for provider callbacks:
// CreateIfAbsent races on the unique (provider, event_id) index, so of N
// concurrent deliveries of the same event exactly one wins.
type WebhookEventRepository interface {
	// CreateIfAbsent inserts the event, returning false (no error) when
	// an event with the same (provider, event_id) already exists.
	CreateIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	GetByProviderEvent(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a gorm-backed WebhookEventRepository.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *webhookEventRepository) GetByProviderEvent(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	updates := map[string]interface{}{
		"processed_at": time.Now(),
	}
	if processingError != "" {
		updates["processing_error"] = processingError
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
