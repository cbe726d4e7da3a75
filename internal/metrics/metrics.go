package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Webhook ingestion
	// ============================================
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_webhooks_received_total",
			Help: "Total webhook deliveries received",
		},
		[]string{"provider"},
	)

	WebhooksDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_webhooks_duplicate_total",
			Help: "Webhook deliveries acknowledged as duplicates",
		},
		[]string{"provider"},
	)

	WebhookSignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for bad signatures",
		},
		[]string{"provider"},
	)

	// ============================================
	// Mint / redeem pipelines
	// ============================================
	MintTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_mint_transitions_total",
			Help: "Mint receipt state transitions",
		},
		[]string{"status"},
	)

	RedeemTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_redeem_transitions_total",
			Help: "Redeem request state transitions",
		},
		[]string{"status"},
	)

	ReconciliationRequired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_reconciliation_required_total",
			Help: "Redeems where the burn succeeded but payout initiation failed",
		},
	)

	AuthorizationsSigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_authorizations_signed_total",
			Help: "Signed mint/redeem authorizations issued",
		},
		[]string{"operation"},
	)

	// ============================================
	// Rate guard
	// ============================================
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_rate_limited_total",
			Help: "Requests rejected by the rate guard",
		},
		[]string{"type"},
	)

	// ============================================
	// Chain RPC
	// ============================================
	ChainSubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_chain_submission_duration_seconds",
			Help:    "Gateway submission duration including confirmation wait",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"chain_id", "method"},
	)

	// ============================================
	// Proof of reserves
	// ============================================
	ReserveRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_reserve_ratio",
		Help: "Latest computed reserve ratio (total reserves / circulating supply)",
	})

	ReserveAccountErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_reserve_account_errors_total",
			Help: "Reserve account queries that failed and degraded to zero",
		},
		[]string{"account"},
	)
)
