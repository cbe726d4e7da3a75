package repository

import (
	"context"
	"errors"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
)

// ReserveSnapshotRepository stores proof-of-reserves attestation records.
type ReserveSnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.ReserveSnapshot) error
	Latest(ctx context.Context) (*models.ReserveSnapshot, error)
	History(ctx context.Context, limit int) ([]*models.ReserveSnapshot, error)
	MarkPublished(ctx context.Context, id, txHash string, blockNumber *uint64) error
}

type reserveSnapshotRepository struct {
	db *gorm.DB
}

// NewReserveSnapshotRepository creates a gorm-backed ReserveSnapshotRepository.
func NewReserveSnapshotRepository(db *gorm.DB) ReserveSnapshotRepository {
	return &reserveSnapshotRepository{db: db}
}

func (r *reserveSnapshotRepository) Create(ctx context.Context, snapshot *models.ReserveSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *reserveSnapshotRepository) Latest(ctx context.Context) (*models.ReserveSnapshot, error) {
	var snapshot models.ReserveSnapshot
	err := r.db.WithContext(ctx).Order("created_at DESC").First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *reserveSnapshotRepository) History(ctx context.Context, limit int) ([]*models.ReserveSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	var snapshots []*models.ReserveSnapshot
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&snapshots).Error
	return snapshots, err
}

func (r *reserveSnapshotRepository) MarkPublished(ctx context.Context, id, txHash string, blockNumber *uint64) error {
	updates := map[string]interface{}{
		"status":       models.ReserveSnapshotPublished,
		"published_at": time.Now(),
	}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	if blockNumber != nil {
		updates["block_number"] = *blockNumber
	}
	return r.db.WithContext(ctx).
		Model(&models.ReserveSnapshot{}).
		Where("id = ? AND status = ?", id, models.ReserveSnapshotCreated).
		Updates(updates).Error
}
