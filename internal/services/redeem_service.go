package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
	"bridge-backend/internal/signer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateRedeemParams is the validated input for a new redemption.
type CreateRedeemParams struct {
	UserWallet        string
	USDAmount         float64
	ChainID           int
	PayoutMethod      string
	PayoutDestination string
}

// RedeemLimits reports a wallet's current quota position.
type RedeemLimits struct {
	MaxPerTransactionUSD float64 `json:"max_per_transaction_usd"`
	DailyMaxUSD          float64 `json:"daily_max_usd"`
	UsedTodayUSD         float64 `json:"used_today_usd"`
	RemainingTodayUSD    float64 `json:"remaining_today_usd"`
}

var allowedPayoutMethods = map[string]bool{
	"bank_transfer": true,
	"sepa":          true,
	"paypal":        true,
}

// RedeemService drives the token-to-fiat state machine:
// pending -> processing -> completed | failed | canceled.
// The burn-then-payout sequence is deliberately not compensated: if the
// burn lands and payout initiation fails, the request is failed with the
// burn hash retained and routed to the operator reconciliation queue.
type RedeemService struct {
	requests  repository.RedeemRequestRepository
	signer    AuthorizationSigner
	gateway   GatewaySubmitter
	payouts   clients.PayoutInitiator
	publisher clients.EventPublisher
	pusher    StatusPusher
	cfg       config.RedeemConfig
	logger    *logrus.Logger

	// walletLocks serializes the daily-quota check-and-admit sequence
	// per wallet; without it two concurrent requests could both observe
	// headroom and jointly exceed the daily ceiling.
	walletLocks [lockStripes]sync.Mutex
}

// NewRedeemService wires the redeem orchestrator.
func NewRedeemService(
	requests repository.RedeemRequestRepository,
	authSigner AuthorizationSigner,
	gateway GatewaySubmitter,
	payouts clients.PayoutInitiator,
	publisher clients.EventPublisher,
	pusher StatusPusher,
	cfg config.RedeemConfig,
	logger *logrus.Logger,
) *RedeemService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedeemService{
		requests:  requests,
		signer:    authSigner,
		gateway:   gateway,
		payouts:   payouts,
		publisher: publisher,
		pusher:    pusher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *RedeemService) lockFor(wallet string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(wallet))
	return &s.walletLocks[h.Sum32()%lockStripes]
}

// Create validates the request and persists it as pending.
func (s *RedeemService) Create(ctx context.Context, params CreateRedeemParams) (*models.RedeemRequest, error) {
	if !common.IsHexAddress(params.UserWallet) {
		return nil, apperrors.Validation("invalid wallet address %q", params.UserWallet)
	}
	if params.USDAmount <= 0 {
		return nil, apperrors.Validation("amount must be greater than zero")
	}
	if !allowedPayoutMethods[params.PayoutMethod] {
		return nil, apperrors.Validation("unsupported payout method %q", params.PayoutMethod)
	}
	if strings.TrimSpace(params.PayoutDestination) == "" {
		return nil, apperrors.Validation("payout destination is required")
	}
	if _, err := s.gateway.GatewayAddress(params.ChainID); err != nil {
		return nil, apperrors.Validation("chain %d is not supported", params.ChainID)
	}

	request := &models.RedeemRequest{
		ID:                uuid.NewString(),
		UserWallet:        strings.ToLower(params.UserWallet),
		USDAmount:         params.USDAmount,
		ChainID:           params.ChainID,
		PayoutMethod:      params.PayoutMethod,
		PayoutDestination: params.PayoutDestination,
		Status:            models.RedeemStatusPending,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create redeem request: %w", err)
	}
	s.transitioned(request, models.RedeemStatusPending)
	return request, nil
}

// Process admits a pending request through the quota and balance gates,
// burns the tokens and initiates the payout.
func (s *RedeemService) Process(ctx context.Context, requestID string) (*models.RedeemRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, apperrors.NotFound("redeem request %s not found", requestID)
	}
	if request.Status != models.RedeemStatusPending {
		return request, apperrors.Conflict("redeem request %s is %s, expected pending", requestID, request.Status)
	}

	if err := s.admit(ctx, request); err != nil {
		return request, s.fail(ctx, request, models.RedeemStatusPending, err)
	}
	s.transitioned(request, models.RedeemStatusProcessing)

	return s.burnAndPayout(ctx, request)
}

// admit serializes per-wallet quota checks and moves the request into
// processing. A request admitted here is already counted by SumDailyUSD,
// so the daily ceiling cannot be jointly exceeded by concurrent callers.
func (s *RedeemService) admit(ctx context.Context, request *models.RedeemRequest) error {
	if request.USDAmount > s.cfg.MaxTxUSD {
		return apperrors.QuotaExceeded("amount %.2f exceeds per-transaction ceiling %.2f", request.USDAmount, s.cfg.MaxTxUSD)
	}

	// The balance read is a network call and not part of the daily-quota
	// invariant; it runs before the admission lock so a slow RPC endpoint
	// cannot stall other wallets on the same stripe.
	wallet := common.HexToAddress(request.UserWallet)
	balance, err := s.gateway.GetTokenBalance(ctx, request.ChainID, wallet)
	if err != nil {
		return apperrors.Chain("balance", err, "failed to read on-chain balance for %s", request.UserWallet)
	}
	required := signer.USDToTokenAmount(request.USDAmount)
	if balance.Cmp(required) < 0 {
		return apperrors.InsufficientBalance("on-chain balance %s below requested %s", balance, required)
	}

	mu := s.lockFor(request.UserWallet)
	mu.Lock()
	defer mu.Unlock()

	usedToday, err := s.requests.SumDailyUSD(ctx, request.UserWallet, localMidnight(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to compute daily redemption total: %w", err)
	}
	if usedToday+request.USDAmount > s.cfg.DailyMaxUSD {
		return apperrors.QuotaExceeded("daily ceiling %.2f would be exceeded (%.2f used, %.2f requested)",
			s.cfg.DailyMaxUSD, usedToday, request.USDAmount)
	}

	ok, err := s.requests.TransitionStatus(ctx, request.ID, models.RedeemStatusPending, models.RedeemStatusProcessing, nil)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflict("redeem request %s was transitioned concurrently", request.ID)
	}
	request.Status = models.RedeemStatusProcessing
	return nil
}

func (s *RedeemService) burnAndPayout(ctx context.Context, request *models.RedeemRequest) (*models.RedeemRequest, error) {
	gatewayAddr, err := s.gateway.GatewayAddress(request.ChainID)
	if err != nil {
		return request, s.fail(ctx, request, models.RedeemStatusProcessing, err)
	}
	wallet := common.HexToAddress(request.UserWallet)
	referenceHash := PaymentReferenceHash("redeem", request.ID)

	auth, err := s.signer.SignRedeem(request.ChainID, gatewayAddr, referenceHash, wallet, request.USDAmount)
	if err != nil {
		return request, s.fail(ctx, request, models.RedeemStatusProcessing, err)
	}
	metrics.AuthorizationsSigned.WithLabelValues(string(auth.Operation)).Inc()

	burnTxHash, err := s.gateway.EstimateAndSubmitRedeem(ctx, request.ChainID, wallet, auth)
	if err != nil {
		request.BurnTxHash = burnTxHash
		return request, s.fail(ctx, request, models.RedeemStatusProcessing, err)
	}
	request.BurnTxHash = burnTxHash

	payout, err := s.payouts.InitiatePayout(ctx, clients.PayoutRequest{
		RedemptionID: request.ID,
		Method:       request.PayoutMethod,
		Destination:  request.PayoutDestination,
		USDAmount:    request.USDAmount,
		BurnTxHash:   burnTxHash,
	})
	if err != nil {
		// The tokens are already destroyed. No automatic compensation:
		// surface to the operator reconciliation queue.
		recErr := apperrors.ReconciliationRequired("payout", err,
			"burn %s confirmed but payout initiation failed for request %s", burnTxHash, request.ID)
		return request, s.failReconciliation(ctx, request, recErr)
	}

	now := time.Now()
	ok, err := s.requests.TransitionStatus(ctx, request.ID, models.RedeemStatusProcessing, models.RedeemStatusCompleted, map[string]interface{}{
		"burn_tx_hash":  burnTxHash,
		"payout_id":     payout.PayoutID,
		"payout_status": models.PayoutStatusInitiated,
		"completed_at":  now,
	})
	if err != nil {
		return request, err
	}
	if !ok {
		return request, apperrors.Conflict("redeem request %s was transitioned concurrently", request.ID)
	}
	request.Status = models.RedeemStatusCompleted
	request.PayoutID = payout.PayoutID
	request.PayoutStatus = models.PayoutStatusInitiated
	request.CompletedAt = &now

	s.logger.WithFields(logrus.Fields{
		"request_id":   request.ID,
		"wallet":       request.UserWallet,
		"usd":          request.USDAmount,
		"burn_tx_hash": burnTxHash,
		"payout_id":    payout.PayoutID,
	}).Info("redeem completed")
	s.transitioned(request, models.RedeemStatusCompleted)

	return request, nil
}

// Cancel cancels a redemption; only permitted while pending.
func (s *RedeemService) Cancel(ctx context.Context, requestID string) (*models.RedeemRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, apperrors.NotFound("redeem request %s not found", requestID)
	}

	ok, err := s.requests.TransitionStatus(ctx, requestID, models.RedeemStatusPending, models.RedeemStatusCanceled, nil)
	if err != nil {
		return request, err
	}
	if !ok {
		return request, apperrors.Conflict("redeem request %s is %s, only pending requests can be canceled", requestID, request.Status)
	}
	request.Status = models.RedeemStatusCanceled
	s.logger.WithField("request_id", requestID).Info("redeem canceled")
	s.transitioned(request, models.RedeemStatusCanceled)
	return request, nil
}

// GetByID looks up one redemption. Completed requests get their payout
// status refreshed from the payout processor so callers see the current
// payout leg, not the state at initiation time.
func (s *RedeemService) GetByID(ctx context.Context, requestID string) (*models.RedeemRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, apperrors.NotFound("redeem request %s not found", requestID)
	}
	s.refreshPayoutStatus(ctx, request)
	return request, nil
}

// refreshPayoutStatus pulls the payout leg's current state and persists
// it when it moved. Lookup failures leave the stored status untouched.
func (s *RedeemService) refreshPayoutStatus(ctx context.Context, request *models.RedeemRequest) {
	if request.Status != models.RedeemStatusCompleted || request.PayoutID == "" || s.payouts == nil {
		return
	}
	status, err := s.payouts.GetPayoutStatus(ctx, request.PayoutID)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", request.ID).Warn("payout status refresh failed")
		return
	}
	current := models.PayoutStatus(status)
	if current == models.PayoutStatusNone || current == request.PayoutStatus {
		return
	}
	if _, err := s.requests.TransitionStatus(ctx, request.ID, models.RedeemStatusCompleted, models.RedeemStatusCompleted, map[string]interface{}{
		"payout_status": current,
	}); err != nil {
		s.logger.WithError(err).WithField("request_id", request.ID).Warn("failed to persist refreshed payout status")
	}
	request.PayoutStatus = current
}

// History returns a wallet's redemptions, newest first.
func (s *RedeemService) History(ctx context.Context, wallet string, page, pageSize int) ([]*models.RedeemRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.requests.FindByWallet(ctx, strings.ToLower(wallet), page, pageSize)
}

// Limits reports the wallet's quota position for today.
func (s *RedeemService) Limits(ctx context.Context, wallet string) (*RedeemLimits, error) {
	usedToday, err := s.requests.SumDailyUSD(ctx, strings.ToLower(wallet), localMidnight(time.Now()))
	if err != nil {
		return nil, err
	}
	remaining := s.cfg.DailyMaxUSD - usedToday
	if remaining < 0 {
		remaining = 0
	}
	return &RedeemLimits{
		MaxPerTransactionUSD: s.cfg.MaxTxUSD,
		DailyMaxUSD:          s.cfg.DailyMaxUSD,
		UsedTodayUSD:         usedToday,
		RemainingTodayUSD:    remaining,
	}, nil
}

func (s *RedeemService) fail(ctx context.Context, request *models.RedeemRequest, from models.RedeemStatus, cause error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"error_message": cause.Error(),
		"failed_at":     now,
	}
	if request.BurnTxHash != "" {
		updates["burn_tx_hash"] = request.BurnTxHash
	}

	ok, err := s.requests.TransitionStatus(ctx, request.ID, from, models.RedeemStatusFailed, updates)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", request.ID).Error("failed to persist redeem failure")
	} else if !ok {
		s.logger.WithField("request_id", request.ID).Warn("redeem failure transition lost a race")
	}
	request.Status = models.RedeemStatusFailed
	request.ErrorMessage = cause.Error()
	request.FailedAt = &now

	s.logger.WithFields(logrus.Fields{
		"request_id": request.ID,
		"wallet":     request.UserWallet,
		"kind":       apperrors.KindOf(cause),
		"error":      cause.Error(),
	}).Warn("redeem failed")
	s.transitioned(request, models.RedeemStatusFailed)
	return cause
}

// failReconciliation fails the request with the burn hash retained and
// routes it to the operator queue with a high-priority alert.
func (s *RedeemService) failReconciliation(ctx context.Context, request *models.RedeemRequest, cause *apperrors.Error) error {
	now := time.Now()
	ok, err := s.requests.TransitionStatus(ctx, request.ID, models.RedeemStatusProcessing, models.RedeemStatusFailed, map[string]interface{}{
		"burn_tx_hash":            request.BurnTxHash,
		"payout_status":           models.PayoutStatusFailed,
		"reconciliation_required": true,
		"error_message":           cause.Error(),
		"failed_at":               now,
	})
	if err != nil {
		s.logger.WithError(err).WithField("request_id", request.ID).Error("failed to persist reconciliation state")
	} else if !ok {
		s.logger.WithField("request_id", request.ID).Warn("reconciliation transition lost a race")
	}
	request.Status = models.RedeemStatusFailed
	request.PayoutStatus = models.PayoutStatusFailed
	request.ReconciliationRequired = true
	request.ErrorMessage = cause.Error()
	request.FailedAt = &now

	metrics.ReconciliationRequired.Inc()
	s.logger.WithFields(logrus.Fields{
		"request_id":   request.ID,
		"wallet":       request.UserWallet,
		"usd":          request.USDAmount,
		"burn_tx_hash": request.BurnTxHash,
	}).Error("burn confirmed but payout failed, reconciliation required")

	if s.publisher != nil {
		if err := s.publisher.PublishReconciliation(map[string]interface{}{
			"request_id":   request.ID,
			"wallet":       request.UserWallet,
			"usd":          request.USDAmount,
			"chain_id":     request.ChainID,
			"burn_tx_hash": request.BurnTxHash,
			"error":        cause.Error(),
			"at":           now,
		}); err != nil {
			s.logger.WithError(err).Error("failed to enqueue reconciliation work item")
		}
		if err := s.publisher.PublishAlert(clients.Alert{
			Priority: clients.AlertPriorityHigh,
			Title:    "Redeem requires reconciliation",
			Message:  fmt.Sprintf("burn %s confirmed but payout failed for request %s", request.BurnTxHash, request.ID),
			Context:  map[string]interface{}{"request_id": request.ID, "wallet": request.UserWallet},
		}); err != nil {
			s.logger.WithError(err).Error("failed to publish reconciliation alert")
		}
	}
	s.transitioned(request, models.RedeemStatusFailed)
	return cause
}

func (s *RedeemService) transitioned(request *models.RedeemRequest, status models.RedeemStatus) {
	metrics.RedeemTransitions.WithLabelValues(string(status)).Inc()

	if s.publisher != nil {
		if err := s.publisher.PublishAudit(clients.SubjectAuditRedeem, map[string]interface{}{
			"request_id":   request.ID,
			"wallet":       request.UserWallet,
			"usd":          request.USDAmount,
			"chain_id":     request.ChainID,
			"status":       status,
			"burn_tx_hash": request.BurnTxHash,
			"payout_id":    request.PayoutID,
			"error":        request.ErrorMessage,
			"at":           time.Now(),
		}); err != nil {
			s.logger.WithError(err).Warn("failed to publish redeem audit event")
		}
	}
	if s.pusher != nil {
		s.pusher.Broadcast(StatusEvent{
			Kind:   "redeem",
			ID:     request.ID,
			Status: string(status),
			TxHash: request.BurnTxHash,
		})
	}
}

// localMidnight returns the start of the current day in local time; the
// daily redemption window resets there.
func localMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
