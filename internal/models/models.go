package models

import (
	"time"
)

// MintReceiptStatus lifecycle: created -> payment_received -> processing
// -> minted (terminal) or failed (terminal, operator-retryable).
type MintReceiptStatus string

const (
	MintStatusCreated         MintReceiptStatus = "created"
	MintStatusPaymentReceived MintReceiptStatus = "payment_received"
	MintStatusProcessing      MintReceiptStatus = "processing"
	MintStatusMinted          MintReceiptStatus = "minted"
	MintStatusFailed          MintReceiptStatus = "failed"
)

// MintReceipt represents one fiat-to-token conversion. (provider,
// provider_event_id) is unique so a replayed webhook can never drive the
// state machine twice.
type MintReceipt struct {
	ID              string            `json:"id" gorm:"primaryKey"`
	Provider        string            `json:"provider" gorm:"not null;index:ux_mint_provider_event,unique,priority:1"`
	ProviderEventID string            `json:"provider_event_id" gorm:"not null;index:ux_mint_provider_event,unique,priority:2"`
	UserWallet      string            `json:"user_wallet" gorm:"not null;index;size:42"`
	USDAmount       float64           `json:"usd_amount" gorm:"not null"`
	ChainID         int               `json:"chain_id" gorm:"not null"`
	Status          MintReceiptStatus `json:"status" gorm:"not null;default:created;index"`

	TxHash           string `json:"tx_hash"`
	Nonce            string `json:"nonce" gorm:"size:66"`
	SignaturePayload string `json:"signature_payload" gorm:"type:text"`
	ErrorMessage     string `json:"error_message" gorm:"type:text"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	MintedAt  *time.Time `json:"minted_at"`
	FailedAt  *time.Time `json:"failed_at"`
}

func (MintReceipt) TableName() string { return "mint_receipts" }

// RedeemStatus lifecycle: pending -> processing -> completed | failed |
// canceled. Canceled is only reachable from pending.
type RedeemStatus string

const (
	RedeemStatusPending    RedeemStatus = "pending"
	RedeemStatusProcessing RedeemStatus = "processing"
	RedeemStatusCompleted  RedeemStatus = "completed"
	RedeemStatusFailed     RedeemStatus = "failed"
	RedeemStatusCanceled   RedeemStatus = "canceled"
)

// PayoutStatus tracks the off-chain payout leg after the burn.
type PayoutStatus string

const (
	PayoutStatusNone      PayoutStatus = ""
	PayoutStatusInitiated PayoutStatus = "initiated"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// RedeemRequest represents one token-to-fiat conversion.
type RedeemRequest struct {
	ID                string       `json:"id" gorm:"primaryKey"`
	UserWallet        string       `json:"user_wallet" gorm:"not null;index;size:42"`
	USDAmount         float64      `json:"usd_amount" gorm:"not null"`
	ChainID           int          `json:"chain_id" gorm:"not null"`
	PayoutMethod      string       `json:"payout_method" gorm:"not null"`
	PayoutDestination string       `json:"payout_destination" gorm:"not null"`
	Status            RedeemStatus `json:"status" gorm:"not null;default:pending;index"`

	BurnTxHash   string       `json:"burn_tx_hash"`
	PayoutID     string       `json:"payout_id"`
	PayoutStatus PayoutStatus `json:"payout_status"`

	// ReconciliationRequired marks a burn that succeeded while payout
	// initiation failed. The tokens are already destroyed; a human must
	// reconcile before any retry.
	ReconciliationRequired bool   `json:"reconciliation_required" gorm:"default:false;index"`
	ErrorMessage           string `json:"error_message" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
	FailedAt    *time.Time `json:"failed_at"`
}

func (RedeemRequest) TableName() string { return "redeem_requests" }

// RateWindow is one fixed counting window for (type, identifier).
// Invariant: request_count never exceeds the configured limit without
// is_blocked flipping to true.
type RateWindow struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Type         string    `json:"type" gorm:"not null;index:idx_rate_type_ident,priority:1"`
	Identifier   string    `json:"identifier" gorm:"not null;index:idx_rate_type_ident,priority:2"`
	WindowStart  time.Time `json:"window_start" gorm:"not null"`
	WindowEnd    time.Time `json:"window_end" gorm:"not null"`
	RequestCount int       `json:"request_count" gorm:"not null;default:0"`
	IsBlocked    bool      `json:"is_blocked" gorm:"not null;default:false"`
	BlockedUntil *time.Time `json:"blocked_until"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (RateWindow) TableName() string { return "rate_windows" }

// ReserveSnapshotStatus lifecycle: created -> published once the
// attestation publish succeeds.
type ReserveSnapshotStatus string

const (
	ReserveSnapshotCreated   ReserveSnapshotStatus = "created"
	ReserveSnapshotPublished ReserveSnapshotStatus = "published"
)

// ReserveSnapshot is one proof-of-reserves attestation record.
// ReserveRatio = TotalReserves / CirculatingSupply; a zero supply is
// treated as fully healthy (ratio 1.0).
type ReserveSnapshot struct {
	ID                string                `json:"id" gorm:"primaryKey"`
	TotalReserves     float64               `json:"total_reserves" gorm:"not null"`
	CirculatingSupply float64               `json:"circulating_supply" gorm:"not null"`
	ReserveRatio      float64               `json:"reserve_ratio" gorm:"not null"`
	Status            ReserveSnapshotStatus `json:"status" gorm:"not null;default:created;index"`
	TxHash            string                `json:"tx_hash"`
	BlockNumber       *uint64               `json:"block_number"`

	// ReservesJSON is the per-account breakdown, serialized.
	ReservesJSON string `json:"reserves_json" gorm:"type:jsonb"`

	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at"`
}

func (ReserveSnapshot) TableName() string { return "reserve_snapshots" }

// ReserveAccountBalance is one account's contribution inside
// ReservesJSON. A failed query contributes zero with Error set rather
// than aborting the snapshot.
type ReserveAccountBalance struct {
	Account string  `json:"account"`
	Type    string  `json:"type"`
	Balance float64 `json:"balance"`
	Error   string  `json:"error,omitempty"`
}

// WebhookEvent stores provider webhook payloads with deduplication
// metadata. The unique (provider, event_id) index is the idempotency
// gate for the whole mint pipeline.
type WebhookEvent struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"not null;index:ux_webhook_provider_event,unique,priority:1"`
	EventID         string     `json:"event_id" gorm:"not null;index:ux_webhook_provider_event,unique,priority:2"`
	EventType       string     `json:"event_type" gorm:"not null;index"`
	PayloadJSON     string     `json:"payload_json" gorm:"type:text;not null"`
	SignatureValid  bool       `json:"signature_valid" gorm:"default:false"`
	ProcessedAt     *time.Time `json:"processed_at"`
	ProcessingError string     `json:"processing_error" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
