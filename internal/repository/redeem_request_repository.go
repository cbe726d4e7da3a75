package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
)

// RedeemRequestRepository defines data access for redeem requests.
type RedeemRequestRepository interface {
	Create(ctx context.Context, request *models.RedeemRequest) error
	GetByID(ctx context.Context, id string) (*models.RedeemRequest, error)
	FindByWallet(ctx context.Context, wallet string, page, pageSize int) ([]*models.RedeemRequest, int64, error)
	FindReconciliationRequired(ctx context.Context) ([]*models.RedeemRequest, error)

	// TransitionStatus atomically moves a request between statuses; see
	// MintReceiptRepository.TransitionStatus.
	TransitionStatus(ctx context.Context, id string, from, to models.RedeemStatus, updates map[string]interface{}) (bool, error)

	// SumDailyUSD sums processing+completed redemption amounts for a
	// wallet since the given instant (local midnight for the daily
	// quota).
	SumDailyUSD(ctx context.Context, wallet string, since time.Time) (float64, error)

	// SumCompletedUSD returns the total USD value of completed redeems,
	// used for the circulating supply computation.
	SumCompletedUSD(ctx context.Context) (float64, error)
}

type redeemRequestRepository struct {
	db *gorm.DB
}

// NewRedeemRequestRepository creates a gorm-backed RedeemRequestRepository.
func NewRedeemRequestRepository(db *gorm.DB) RedeemRequestRepository {
	return &redeemRequestRepository{db: db}
}

func (r *redeemRequestRepository) Create(ctx context.Context, request *models.RedeemRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *redeemRequestRepository) GetByID(ctx context.Context, id string) (*models.RedeemRequest, error) {
	var request models.RedeemRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *redeemRequestRepository) FindByWallet(ctx context.Context, wallet string, page, pageSize int) ([]*models.RedeemRequest, int64, error) {
	var requests []*models.RedeemRequest
	var total int64

	query := r.db.WithContext(ctx).Where("user_wallet = ?", wallet)
	if err := query.Model(&models.RedeemRequest{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&requests).Error
	return requests, total, err
}

func (r *redeemRequestRepository) FindReconciliationRequired(ctx context.Context) ([]*models.RedeemRequest, error) {
	var requests []*models.RedeemRequest
	err := r.db.WithContext(ctx).
		Where("reconciliation_required = ?", true).
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}

func (r *redeemRequestRepository) TransitionStatus(ctx context.Context, id string, from, to models.RedeemStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).
		Model(&models.RedeemRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition redeem request %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *redeemRequestRepository) SumDailyUSD(ctx context.Context, wallet string, since time.Time) (float64, error) {
	var total *float64
	err := r.db.WithContext(ctx).
		Model(&models.RedeemRequest{}).
		Select("SUM(usd_amount)").
		Where("user_wallet = ? AND created_at >= ? AND status IN ?", wallet, since,
			[]models.RedeemStatus{models.RedeemStatusProcessing, models.RedeemStatusCompleted}).
		Scan(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *redeemRequestRepository) SumCompletedUSD(ctx context.Context) (float64, error) {
	var total *float64
	err := r.db.WithContext(ctx).
		Model(&models.RedeemRequest{}).
		Select("SUM(usd_amount)").
		Where("status = ?", models.RedeemStatusCompleted).
		Scan(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
