package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// ConfirmedPayment is a provider-verified, deduplicated payment event.
// Webhook ingestion guarantees at-most-once delivery into this service,
// so the state machine assumes it is driven once per distinct event.
type ConfirmedPayment struct {
	Provider   string
	EventID    string
	UserWallet string
	USDAmount  float64
	ChainID    int
}

// MintService drives the fiat-to-token state machine:
// created -> payment_received -> processing -> minted | failed.
type MintService struct {
	receipts  repository.MintReceiptRepository
	guard     RateGuard
	signer    AuthorizationSigner
	gateway   GatewaySubmitter
	publisher clients.EventPublisher
	pusher    StatusPusher
	cfg       config.MintConfig
	logger    *logrus.Logger
}

// NewMintService wires the mint orchestrator.
func NewMintService(
	receipts repository.MintReceiptRepository,
	guard RateGuard,
	authSigner AuthorizationSigner,
	gateway GatewaySubmitter,
	publisher clients.EventPublisher,
	pusher StatusPusher,
	cfg config.MintConfig,
	logger *logrus.Logger,
) *MintService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MintService{
		receipts:  receipts,
		guard:     guard,
		signer:    authSigner,
		gateway:   gateway,
		publisher: publisher,
		pusher:    pusher,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessPayment runs one confirmed payment through the mint pipeline to
// completion or failure. The returned receipt reflects the terminal
// state; the error (if any) carries the failure classification.
func (s *MintService) ProcessPayment(ctx context.Context, payment ConfirmedPayment) (*models.MintReceipt, error) {
	receipt := &models.MintReceipt{
		ID:              uuid.NewString(),
		Provider:        payment.Provider,
		ProviderEventID: payment.EventID,
		UserWallet:      strings.ToLower(payment.UserWallet),
		USDAmount:       payment.USDAmount,
		ChainID:         payment.ChainID,
		Status:          models.MintStatusCreated,
	}
	if err := s.receipts.Create(ctx, receipt); err != nil {
		// The unique (provider, event_id) index makes a duplicate create
		// impossible; hitting it means ingestion-level dedup was bypassed.
		if existing, lookupErr := s.receipts.GetByProviderEvent(ctx, payment.Provider, payment.EventID); lookupErr == nil {
			return existing, apperrors.Conflict("payment event %s/%s already has receipt %s", payment.Provider, payment.EventID, existing.ID)
		}
		return nil, fmt.Errorf("failed to create mint receipt: %w", err)
	}
	s.transitioned(receipt, models.MintStatusCreated)

	// The webhook layer verified the provider signature before handing
	// the event over, so the payment is received by definition here.
	ok, err := s.receipts.TransitionStatus(ctx, receipt.ID, models.MintStatusCreated, models.MintStatusPaymentReceived, nil)
	if err != nil {
		return receipt, fmt.Errorf("failed to mark receipt %s payment_received: %w", receipt.ID, err)
	}
	if !ok {
		return receipt, apperrors.Conflict("mint receipt %s was transitioned concurrently", receipt.ID)
	}
	receipt.Status = models.MintStatusPaymentReceived
	s.transitioned(receipt, models.MintStatusPaymentReceived)

	return s.run(ctx, receipt)
}

// Retry re-enters a failed receipt at payment_received and re-runs the
// pipeline. This is the explicit operator action; failures are never
// retried automatically.
func (s *MintService) Retry(ctx context.Context, receiptID string) (*models.MintReceipt, error) {
	receipt, err := s.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return nil, apperrors.NotFound("mint receipt %s not found", receiptID)
	}
	if receipt.Status != models.MintStatusFailed {
		return receipt, apperrors.Conflict("mint receipt %s is %s, only failed receipts can be retried", receiptID, receipt.Status)
	}

	ok, err := s.receipts.TransitionStatus(ctx, receipt.ID, models.MintStatusFailed, models.MintStatusPaymentReceived, map[string]interface{}{
		"error_message": "",
		"failed_at":     nil,
	})
	if err != nil {
		return receipt, err
	}
	if !ok {
		return receipt, apperrors.Conflict("mint receipt %s was transitioned concurrently", receiptID)
	}
	receipt.Status = models.MintStatusPaymentReceived
	receipt.ErrorMessage = ""
	s.logger.WithField("receipt_id", receiptID).Info("operator retry of failed mint")
	s.transitioned(receipt, models.MintStatusPaymentReceived)

	return s.run(ctx, receipt)
}

// GetByID looks up one receipt.
func (s *MintService) GetByID(ctx context.Context, receiptID string) (*models.MintReceipt, error) {
	receipt, err := s.receipts.GetByID(ctx, receiptID)
	if err != nil {
		return nil, apperrors.NotFound("mint receipt %s not found", receiptID)
	}
	return receipt, nil
}

// run advances a payment_received receipt to its terminal state.
func (s *MintService) run(ctx context.Context, receipt *models.MintReceipt) (*models.MintReceipt, error) {
	if receipt.USDAmount < s.cfg.MinUSD || receipt.USDAmount > s.cfg.MaxUSD {
		err := apperrors.Validation("amount %.2f outside allowed range [%.2f, %.2f]", receipt.USDAmount, s.cfg.MinUSD, s.cfg.MaxUSD)
		return receipt, s.fail(ctx, receipt, models.MintStatusPaymentReceived, err)
	}

	window := time.Duration(s.cfg.Window()) * time.Second
	if err := s.guard.Check(ctx, "mint", receipt.UserWallet, s.cfg.MaxPerHour, window); err != nil {
		return receipt, s.fail(ctx, receipt, models.MintStatusPaymentReceived, err)
	}

	ok, err := s.receipts.TransitionStatus(ctx, receipt.ID, models.MintStatusPaymentReceived, models.MintStatusProcessing, nil)
	if err != nil {
		return receipt, err
	}
	if !ok {
		return receipt, apperrors.Conflict("mint receipt %s was transitioned concurrently", receipt.ID)
	}
	receipt.Status = models.MintStatusProcessing
	s.transitioned(receipt, models.MintStatusProcessing)

	gatewayAddr, err := s.gateway.GatewayAddress(receipt.ChainID)
	if err != nil {
		return receipt, s.fail(ctx, receipt, models.MintStatusProcessing, err)
	}

	wallet := common.HexToAddress(receipt.UserWallet)
	referenceHash := PaymentReferenceHash(receipt.Provider, receipt.ProviderEventID)

	auth, err := s.signer.SignMint(receipt.ChainID, gatewayAddr, referenceHash, wallet, receipt.USDAmount)
	if err != nil {
		return receipt, s.fail(ctx, receipt, models.MintStatusProcessing, err)
	}
	metrics.AuthorizationsSigned.WithLabelValues(string(auth.Operation)).Inc()

	receipt.Nonce = auth.NonceHex()
	receipt.SignaturePayload = auth.PayloadJSON()

	txHash, err := s.gateway.EstimateAndSubmitMint(ctx, receipt.ChainID, wallet, auth)
	if err != nil {
		// Preserve the partial tx hash (if any) for the operator.
		receipt.TxHash = txHash
		return receipt, s.fail(ctx, receipt, models.MintStatusProcessing, err)
	}

	now := time.Now()
	ok, err = s.receipts.TransitionStatus(ctx, receipt.ID, models.MintStatusProcessing, models.MintStatusMinted, map[string]interface{}{
		"tx_hash":           txHash,
		"nonce":             receipt.Nonce,
		"signature_payload": receipt.SignaturePayload,
		"minted_at":         now,
	})
	if err != nil {
		return receipt, err
	}
	if !ok {
		return receipt, apperrors.Conflict("mint receipt %s was transitioned concurrently", receipt.ID)
	}
	receipt.Status = models.MintStatusMinted
	receipt.TxHash = txHash
	receipt.MintedAt = &now

	s.logger.WithFields(logrus.Fields{
		"receipt_id": receipt.ID,
		"wallet":     receipt.UserWallet,
		"usd":        receipt.USDAmount,
		"chain_id":   receipt.ChainID,
		"tx_hash":    txHash,
	}).Info("mint completed")
	s.transitioned(receipt, models.MintStatusMinted)

	return receipt, nil
}

// fail marks the receipt terminal-failed from its current status and
// records the classified error for operator replay.
func (s *MintService) fail(ctx context.Context, receipt *models.MintReceipt, from models.MintReceiptStatus, cause error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"error_message": cause.Error(),
		"failed_at":     now,
	}
	if receipt.TxHash != "" {
		updates["tx_hash"] = receipt.TxHash
	}
	if receipt.Nonce != "" {
		updates["nonce"] = receipt.Nonce
		updates["signature_payload"] = receipt.SignaturePayload
	}

	ok, err := s.receipts.TransitionStatus(ctx, receipt.ID, from, models.MintStatusFailed, updates)
	if err != nil {
		s.logger.WithError(err).WithField("receipt_id", receipt.ID).Error("failed to persist mint failure")
	} else if !ok {
		s.logger.WithField("receipt_id", receipt.ID).Warn("mint failure transition lost a race")
	}
	receipt.Status = models.MintStatusFailed
	receipt.ErrorMessage = cause.Error()
	receipt.FailedAt = &now

	s.logger.WithFields(logrus.Fields{
		"receipt_id": receipt.ID,
		"wallet":     receipt.UserWallet,
		"kind":       apperrors.KindOf(cause),
		"error":      cause.Error(),
	}).Warn("mint failed")
	s.transitioned(receipt, models.MintStatusFailed)

	return cause
}

// transitioned records metrics, audit trail and status pushes for one
// state change.
func (s *MintService) transitioned(receipt *models.MintReceipt, status models.MintReceiptStatus) {
	metrics.MintTransitions.WithLabelValues(string(status)).Inc()

	if s.publisher != nil {
		if err := s.publisher.PublishAudit(clients.SubjectAuditMint, map[string]interface{}{
			"receipt_id": receipt.ID,
			"provider":   receipt.Provider,
			"event_id":   receipt.ProviderEventID,
			"wallet":     receipt.UserWallet,
			"usd":        receipt.USDAmount,
			"chain_id":   receipt.ChainID,
			"status":     status,
			"tx_hash":    receipt.TxHash,
			"error":      receipt.ErrorMessage,
			"at":         time.Now(),
		}); err != nil {
			s.logger.WithError(err).Warn("failed to publish mint audit event")
		}
	}
	if s.pusher != nil {
		s.pusher.Broadcast(StatusEvent{
			Kind:   "mint",
			ID:     receipt.ID,
			Status: string(status),
			TxHash: receipt.TxHash,
		})
	}
}

// PaymentReferenceHash derives the 32-byte reference bound into the
// signed authorization from the provider event identity.
func PaymentReferenceHash(provider, eventID string) common.Hash {
	return common.Hash(sha3.Sum256([]byte(provider + ":" + eventID)))
}
