package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReserveService computes and publishes proof-of-reserves snapshots.
// Circulating supply is derived from the book: total minted minus total
// redeemed. Reserve accounts are queried independently so one custodian
// outage degrades the snapshot instead of aborting it.
type ReserveService struct {
	snapshots repository.ReserveSnapshotRepository
	mints     repository.MintReceiptRepository
	redeems   repository.RedeemRequestRepository
	accounts  clients.ReserveAccountClient
	publisher clients.EventPublisher
	pusher    StatusPusher
	cfg       config.ReserveConfig
	logger    *logrus.Logger
}

// NewReserveService wires the proof-of-reserves publisher.
func NewReserveService(
	snapshots repository.ReserveSnapshotRepository,
	mints repository.MintReceiptRepository,
	redeems repository.RedeemRequestRepository,
	accounts clients.ReserveAccountClient,
	publisher clients.EventPublisher,
	pusher StatusPusher,
	cfg config.ReserveConfig,
	logger *logrus.Logger,
) *ReserveService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ReserveService{
		snapshots: snapshots,
		mints:     mints,
		redeems:   redeems,
		accounts:  accounts,
		publisher: publisher,
		pusher:    pusher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run publishes a snapshot immediately, then on every interval tick
// until ctx is canceled. Intended to be started as a goroutine from
// main.
func (s *ReserveService) Run(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("initial reserve snapshot failed")
	}

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.WithError(err).Error("scheduled reserve snapshot failed")
			}
		}
	}
}

// RunOnce performs one full snapshot cycle: query reserve accounts,
// compute the ratio, persist, attest, mark published.
func (s *ReserveService) RunOnce(ctx context.Context) (*models.ReserveSnapshot, error) {
	balances, totalReserves := s.collectBalances(ctx)

	circulating, err := s.circulatingSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute circulating supply: %w", err)
	}

	// Zero supply means nothing to back; report fully healthy.
	ratio := 1.0
	if circulating > 0 {
		ratio = totalReserves / circulating
	}
	metrics.ReserveRatio.Set(ratio)

	breakdown, _ := json.Marshal(balances)
	snapshot := &models.ReserveSnapshot{
		ID:                uuid.NewString(),
		TotalReserves:     totalReserves,
		CirculatingSupply: circulating,
		ReserveRatio:      ratio,
		Status:            models.ReserveSnapshotCreated,
		ReservesJSON:      string(breakdown),
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist reserve snapshot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"snapshot_id": snapshot.ID,
		"reserves":    totalReserves,
		"circulating": circulating,
		"ratio":       ratio,
	}).Info("reserve snapshot created")

	if ratio < 1.0 {
		s.alertUndercollateralized(snapshot)
	}

	if err := s.publish(ctx, snapshot); err != nil {
		// The snapshot stays in created; the next cycle produces a fresh
		// one, so nothing retries this publish.
		s.logger.WithError(err).WithField("snapshot_id", snapshot.ID).Error("failed to publish reserve attestation")
		return snapshot, nil
	}

	if s.pusher != nil {
		s.pusher.Broadcast(StatusEvent{
			Kind:   "reserve",
			ID:     snapshot.ID,
			Status: string(models.ReserveSnapshotPublished),
		})
	}
	return snapshot, nil
}

// Latest returns the most recent snapshot.
func (s *ReserveService) Latest(ctx context.Context) (*models.ReserveSnapshot, error) {
	snapshot, err := s.snapshots.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, apperrors.NotFound("no reserve snapshot published yet")
	}
	return snapshot, nil
}

// History returns up to limit recent snapshots, newest first.
func (s *ReserveService) History(ctx context.Context, limit int) ([]*models.ReserveSnapshot, error) {
	return s.snapshots.History(ctx, limit)
}

// collectBalances queries every configured account, turning individual
// failures into zero contributions with the error recorded.
func (s *ReserveService) collectBalances(ctx context.Context) ([]models.ReserveAccountBalance, float64) {
	balances := make([]models.ReserveAccountBalance, 0, len(s.cfg.Accounts))
	total := 0.0
	for _, account := range s.cfg.Accounts {
		entry := models.ReserveAccountBalance{Account: account.Name, Type: account.Type}
		balance, err := s.accounts.GetBalance(ctx, account)
		if err != nil {
			metrics.ReserveAccountErrors.WithLabelValues(account.Name).Inc()
			entry.Error = err.Error()
			s.logger.WithError(err).WithField("account", account.Name).Warn("reserve account query failed")
		} else {
			entry.Balance = balance
			total += balance
		}
		balances = append(balances, entry)
	}
	return balances, total
}

func (s *ReserveService) circulatingSupply(ctx context.Context) (float64, error) {
	minted, err := s.mints.SumMintedUSD(ctx)
	if err != nil {
		return 0, err
	}
	redeemed, err := s.redeems.SumCompletedUSD(ctx)
	if err != nil {
		return 0, err
	}
	supply := minted - redeemed
	if supply < 0 {
		// Book inversion should be impossible; surface it rather than
		// report a negative supply.
		s.logger.WithFields(logrus.Fields{
			"minted":   minted,
			"redeemed": redeemed,
		}).Error("circulating supply computed negative, clamping to zero")
		supply = 0
	}
	return supply, nil
}

// publish emits the attestation and flips the snapshot to published.
func (s *ReserveService) publish(ctx context.Context, snapshot *models.ReserveSnapshot) error {
	if s.publisher != nil {
		if err := s.publisher.PublishAttestation(map[string]interface{}{
			"snapshot_id":        snapshot.ID,
			"total_reserves":     snapshot.TotalReserves,
			"circulating_supply": snapshot.CirculatingSupply,
			"reserve_ratio":      snapshot.ReserveRatio,
			"breakdown":          json.RawMessage(snapshot.ReservesJSON),
			"created_at":         snapshot.CreatedAt,
		}); err != nil {
			return err
		}
	}

	if err := s.snapshots.MarkPublished(ctx, snapshot.ID, "", nil); err != nil {
		return err
	}
	snapshot.Status = models.ReserveSnapshotPublished
	now := time.Now()
	snapshot.PublishedAt = &now

	s.logger.WithField("snapshot_id", snapshot.ID).Info("reserve attestation published")
	return nil
}

func (s *ReserveService) alertUndercollateralized(snapshot *models.ReserveSnapshot) {
	s.logger.WithFields(logrus.Fields{
		"snapshot_id": snapshot.ID,
		"ratio":       snapshot.ReserveRatio,
	}).Error("reserve ratio below 1.0")
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAlert(clients.Alert{
		Priority: clients.AlertPriorityHigh,
		Title:    "Reserve ratio below 1.0",
		Message:  fmt.Sprintf("snapshot %s: reserves %.2f against circulating supply %.2f (ratio %.4f)", snapshot.ID, snapshot.TotalReserves, snapshot.CirculatingSupply, snapshot.ReserveRatio),
		Context: map[string]interface{}{
			"snapshot_id": snapshot.ID,
			"ratio":       snapshot.ReserveRatio,
		},
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.WithError(err).Warn("failed to publish undercollateralization alert")
	}
}
