package repository

import (
	"context"
	"errors"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
)

// RateWindowRepository stores fixed-window counters for the rate guard.
// The guard serializes check-and-increment per identifier; this store
// only needs plain reads and writes.
type RateWindowRepository interface {
	// LatestFor returns the most recent window for (type, identifier),
	// or nil when none exists.
	LatestFor(ctx context.Context, windowType, identifier string) (*models.RateWindow, error)
	Create(ctx context.Context, window *models.RateWindow) error
	Save(ctx context.Context, window *models.RateWindow) error

	// DeleteExpired prunes windows that ended before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type rateWindowRepository struct {
	db *gorm.DB
}

// NewRateWindowRepository creates a gorm-backed RateWindowRepository.
func NewRateWindowRepository(db *gorm.DB) RateWindowRepository {
	return &rateWindowRepository{db: db}
}

func (r *rateWindowRepository) LatestFor(ctx context.Context, windowType, identifier string) (*models.RateWindow, error) {
	var window models.RateWindow
	err := r.db.WithContext(ctx).
		Where("type = ? AND identifier = ?", windowType, identifier).
		Order("window_start DESC").
		First(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &window, nil
}

func (r *rateWindowRepository) Create(ctx context.Context, window *models.RateWindow) error {
	return r.db.WithContext(ctx).Create(window).Error
}

func (r *rateWindowRepository) Save(ctx context.Context, window *models.RateWindow) error {
	return r.db.WithContext(ctx).Save(window).Error
}

func (r *rateWindowRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("window_end < ? AND (blocked_until IS NULL OR blocked_until < ?)", cutoff, cutoff).
		Delete(&models.RateWindow{})
	return result.RowsAffected, result.Error
}
