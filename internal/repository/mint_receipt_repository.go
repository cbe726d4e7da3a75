package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
)

// MintReceiptRepository defines data access for mint receipts. Status
// transitions are conditional on the expected prior status so two
// orchestrator instances can never transition the same receipt twice.
type MintReceiptRepository interface {
	Create(ctx context.Context, receipt *models.MintReceipt) error
	GetByID(ctx context.Context, id string) (*models.MintReceipt, error)
	GetByProviderEvent(ctx context.Context, provider, eventID string) (*models.MintReceipt, error)
	FindByWallet(ctx context.Context, wallet string, page, pageSize int) ([]*models.MintReceipt, int64, error)
	FindByStatus(ctx context.Context, status models.MintReceiptStatus) ([]*models.MintReceipt, error)

	// TransitionStatus atomically moves a receipt from one status to
	// another, applying extra column updates. Returns false when the
	// receipt was not in the expected status (lost race or bad replay).
	TransitionStatus(ctx context.Context, id string, from, to models.MintReceiptStatus, updates map[string]interface{}) (bool, error)

	// SumMintedUSD returns the total USD value of completed mints,
	// used for the circulating supply computation.
	SumMintedUSD(ctx context.Context) (float64, error)
}

type mintReceiptRepository struct {
	db *gorm.DB
}

// NewMintReceiptRepository creates a gorm-backed MintReceiptRepository.
func NewMintReceiptRepository(db *gorm.DB) MintReceiptRepository {
	return &mintReceiptRepository{db: db}
}

func (r *mintReceiptRepository) Create(ctx context.Context, receipt *models.MintReceipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *mintReceiptRepository) GetByID(ctx context.Context, id string) (*models.MintReceipt, error) {
	var receipt models.MintReceipt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&receipt).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *mintReceiptRepository) GetByProviderEvent(ctx context.Context, provider, eventID string) (*models.MintReceipt, error) {
	var receipt models.MintReceipt
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&receipt).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *mintReceiptRepository) FindByWallet(ctx context.Context, wallet string, page, pageSize int) ([]*models.MintReceipt, int64, error) {
	var receipts []*models.MintReceipt
	var total int64

	query := r.db.WithContext(ctx).Where("user_wallet = ?", wallet)
	if err := query.Model(&models.MintReceipt{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&receipts).Error
	return receipts, total, err
}

func (r *mintReceiptRepository) FindByStatus(ctx context.Context, status models.MintReceiptStatus) ([]*models.MintReceipt, error) {
	var receipts []*models.MintReceipt
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&receipts).Error
	return receipts, err
}

func (r *mintReceiptRepository) TransitionStatus(ctx context.Context, id string, from, to models.MintReceiptStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).
		Model(&models.MintReceipt{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition mint receipt %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *mintReceiptRepository) SumMintedUSD(ctx context.Context) (float64, error) {
	var total *float64
	err := r.db.WithContext(ctx).
		Model(&models.MintReceipt{}).
		Select("SUM(usd_amount)").
		Where("status = ?", models.MintStatusMinted).
		Scan(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
