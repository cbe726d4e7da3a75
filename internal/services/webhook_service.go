package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// IngestOutcome classifies how a delivery was acknowledged.
type IngestOutcome string

const (
	IngestProcessed IngestOutcome = "processed"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestIgnored   IngestOutcome = "ignored"
)

// IngestResult is returned to the webhook handler; every outcome here is
// acknowledged 200 so providers stop retrying.
type IngestResult struct {
	Outcome   IngestOutcome
	EventID   string
	EventType string
	ReceiptID string
}

// WebhookService terminates provider callbacks: it verifies the HMAC
// signature over the raw payload, deduplicates by (provider, eventId)
// and hands a strict ConfirmedPayment to the mint orchestrator.
type WebhookService struct {
	events    repository.WebhookEventRepository
	mints     *MintService
	providers map[string]config.ProviderConfig
	publisher clients.EventPublisher
	logger    *logrus.Logger
}

// NewWebhookService wires the ingestion layer.
func NewWebhookService(
	events repository.WebhookEventRepository,
	mints *MintService,
	providers map[string]config.ProviderConfig,
	publisher clients.EventPublisher,
	logger *logrus.Logger,
) *WebhookService {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookService{
		events:    events,
		mints:     mints,
		providers: providers,
		publisher: publisher,
		logger:    logger,
	}
}

// SignatureHeader returns the header name carrying the provider's
// signature, or an error for unknown providers.
func (s *WebhookService) SignatureHeader(provider string) (string, error) {
	cfg, ok := s.providers[provider]
	if !ok {
		return "", apperrors.NotFound("unknown payment provider %q", provider)
	}
	return cfg.SignatureHeader, nil
}

// VerifySignature checks the provider's HMAC-SHA256 signature over the
// raw payload in constant time. The error deliberately does not reveal
// which check failed.
func (s *WebhookService) VerifySignature(provider string, payload []byte, signature string) error {
	cfg, ok := s.providers[provider]
	if !ok {
		return apperrors.NotFound("unknown payment provider %q", provider)
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) == 0 {
		metrics.WebhookSignatureFailures.WithLabelValues(provider).Inc()
		return apperrors.Signaturef("webhook signature verification failed")
	}

	mac := hmac.New(sha256.New, []byte(cfg.WebhookSecret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		metrics.WebhookSignatureFailures.WithLabelValues(provider).Inc()
		s.logger.WithField("provider", provider).Warn("webhook signature verification failed")
		return apperrors.Signaturef("webhook signature verification failed")
	}
	return nil
}

// Ingest verifies, deduplicates and processes one delivery. Duplicate
// and unknown-type events are acknowledged without reprocessing; a mint
// pipeline failure is recorded on the stored event and still
// acknowledged, since the receipt is persisted for operator replay and a
// provider retry could never succeed past the dedup gate anyway.
func (s *WebhookService) Ingest(ctx context.Context, provider string, payload []byte, signature string) (*IngestResult, error) {
	metrics.WebhooksReceived.WithLabelValues(provider).Inc()

	if err := s.VerifySignature(provider, payload, signature); err != nil {
		return nil, err
	}

	envelope, err := decodeEnvelope(provider, payload)
	if err != nil {
		return nil, apperrors.Validation("malformed webhook payload: %v", err)
	}

	event := &models.WebhookEvent{
		Provider:       provider,
		EventID:        envelope.EventID,
		EventType:      envelope.EventType,
		PayloadJSON:    string(payload),
		SignatureValid: true,
	}
	created, err := s.events.CreateIfAbsent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to store webhook event: %w", err)
	}
	if !created {
		metrics.WebhooksDuplicate.WithLabelValues(provider).Inc()
		s.logger.WithFields(logrus.Fields{
			"provider": provider,
			"event_id": envelope.EventID,
		}).Info("duplicate webhook delivery acknowledged")
		return &IngestResult{Outcome: IngestDuplicate, EventID: envelope.EventID, EventType: envelope.EventType}, nil
	}

	s.audit(provider, envelope)

	payment, ok, decodeErr := envelope.confirmedPayment(provider)
	if decodeErr != nil {
		// Signed but malformed: a retry can never repair it, so record
		// the problem and acknowledge.
		_ = s.events.MarkProcessed(ctx, event.ID, decodeErr.Error())
		s.logger.WithFields(logrus.Fields{
			"provider": provider,
			"event_id": envelope.EventID,
			"error":    decodeErr.Error(),
		}).Warn("webhook payload rejected")
		return &IngestResult{Outcome: IngestIgnored, EventID: envelope.EventID, EventType: envelope.EventType}, nil
	}
	if !ok {
		// Not a payment confirmation. Acknowledge to avoid retry storms.
		_ = s.events.MarkProcessed(ctx, event.ID, "")
		s.logger.WithFields(logrus.Fields{
			"provider":   provider,
			"event_id":   envelope.EventID,
			"event_type": envelope.EventType,
		}).Info("webhook event type ignored")
		return &IngestResult{Outcome: IngestIgnored, EventID: envelope.EventID, EventType: envelope.EventType}, nil
	}

	receipt, mintErr := s.mints.ProcessPayment(ctx, payment)
	processingError := ""
	if mintErr != nil {
		processingError = mintErr.Error()
	}
	_ = s.events.MarkProcessed(ctx, event.ID, processingError)

	result := &IngestResult{Outcome: IngestProcessed, EventID: envelope.EventID, EventType: envelope.EventType}
	if receipt != nil {
		result.ReceiptID = receipt.ID
	}
	return result, nil
}

func (s *WebhookService) audit(provider string, envelope *providerEnvelope) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAudit(clients.SubjectAuditWebhook, map[string]interface{}{
		"provider":   provider,
		"event_id":   envelope.EventID,
		"event_type": envelope.EventType,
	}); err != nil {
		s.logger.WithError(err).Warn("failed to publish webhook audit event")
	}
}

// providerEnvelope is the decoded, provider-tagged view of a payload.
// Raw "any"-typed provider JSON is narrowed here, at the boundary, into
// a strict ConfirmedPayment before it can reach the orchestrator.
type providerEnvelope struct {
	EventID   string
	EventType string

	wallet  string
	usd     float64
	chainID int
	valid   bool
	reason  string
}

// stripeEvent mirrors the Stripe webhook envelope; amounts arrive in
// cents and the wallet/chain ride in payment-intent metadata.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			AmountReceived int64  `json:"amount_received"`
			Currency       string `json:"currency"`
			Metadata       struct {
				Wallet  string `json:"wallet"`
				ChainID string `json:"chain_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// gatewayPayEvent is the flat envelope used by the in-house processor.
type gatewayPayEvent struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Wallet    string  `json:"wallet"`
	USDAmount float64 `json:"usd_amount"`
	ChainID   int     `json:"chain_id"`
}

func decodeEnvelope(provider string, payload []byte) (*providerEnvelope, error) {
	switch provider {
	case "stripe":
		var evt stripeEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		if evt.ID == "" {
			return nil, fmt.Errorf("missing event id")
		}
		env := &providerEnvelope{EventID: evt.ID, EventType: evt.Type}
		if evt.Type == "payment_intent.succeeded" {
			env.valid = true
			env.wallet = evt.Data.Object.Metadata.Wallet
			env.usd = float64(evt.Data.Object.AmountReceived) / 100
			if evt.Data.Object.Currency != "" && !strings.EqualFold(evt.Data.Object.Currency, "usd") {
				env.valid = false
				env.reason = fmt.Sprintf("unsupported currency %q", evt.Data.Object.Currency)
			}
			if chainID, err := strconv.Atoi(evt.Data.Object.Metadata.ChainID); err == nil {
				env.chainID = chainID
			} else {
				env.valid = false
				env.reason = "missing or invalid chain_id metadata"
			}
		}
		return env, nil
	default:
		var evt gatewayPayEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		if evt.EventID == "" {
			return nil, fmt.Errorf("missing event_id")
		}
		env := &providerEnvelope{EventID: evt.EventID, EventType: evt.EventType}
		if evt.EventType == "payment.confirmed" {
			env.valid = true
			env.wallet = evt.Wallet
			env.usd = evt.USDAmount
			env.chainID = evt.ChainID
		}
		return env, nil
	}
}

// confirmedPayment narrows the envelope. The middle return reports
// whether the event type is a payment confirmation at all; the error
// reports a confirmation whose fields are unusable.
func (e *providerEnvelope) confirmedPayment(provider string) (ConfirmedPayment, bool, error) {
	if !e.valid && e.reason == "" {
		return ConfirmedPayment{}, false, nil
	}
	if e.reason != "" {
		return ConfirmedPayment{}, true, fmt.Errorf("%s", e.reason)
	}
	if !common.IsHexAddress(e.wallet) {
		return ConfirmedPayment{}, true, fmt.Errorf("invalid wallet address %q", e.wallet)
	}
	if e.usd <= 0 {
		return ConfirmedPayment{}, true, fmt.Errorf("non-positive amount %.2f", e.usd)
	}
	if e.chainID == 0 {
		return ConfirmedPayment{}, true, fmt.Errorf("missing chain id")
	}
	return ConfirmedPayment{
		Provider:   provider,
		EventID:    e.EventID,
		UserWallet: e.wallet,
		USDAmount:  e.usd,
		ChainID:    e.chainID,
	}, true, nil
}
