package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"bridge-backend/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects for the audit-log sink, the notification/broadcast
// collaborator, and the operator reconciliation queue.
const (
	SubjectAuditMint           = "bridge.audit.mint"
	SubjectAuditRedeem         = "bridge.audit.redeem"
	SubjectAuditWebhook        = "bridge.audit.webhook"
	SubjectAlerts              = "bridge.alerts"
	SubjectReconciliation      = "bridge.reconciliation"
	SubjectReserveAttestations = "bridge.attestations.reserves"
)

// AlertPriority classifies notification urgency for the broadcast
// collaborator.
type AlertPriority string

const (
	AlertPriorityNormal AlertPriority = "normal"
	AlertPriorityHigh   AlertPriority = "high"
)

// Alert is a notification message for the broadcast collaborator.
type Alert struct {
	Priority  AlertPriority          `json:"priority"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventPublisher is the outbound eventing surface the services depend on.
// The NATS implementation below is the production one; tests use fakes.
type EventPublisher interface {
	PublishAudit(subject string, event interface{}) error
	PublishAlert(alert Alert) error
	PublishReconciliation(event interface{}) error
	PublishAttestation(event interface{}) error
}

// NATSClient publishes audit events, alerts, reconciliation work items
// and reserve attestations to NATS subjects.
type NATSClient struct {
	conn   *nats.Conn
	logger *logrus.Logger
}

// NewNATSClient connects to the NATS server with reconnect handling.
func NewNATSClient(cfg config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = logrus.New()
	}

	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.WithField("url", cfg.URL).Info("NATS client connected")
	return &NATSClient{conn: conn, logger: logger}, nil
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}

func (c *NATSClient) publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishAudit appends a structured event to the audit-log sink.
func (c *NATSClient) PublishAudit(subject string, event interface{}) error {
	return c.publish(subject, event)
}

// PublishAlert notifies the broadcast collaborator.
func (c *NATSClient) PublishAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	return c.publish(SubjectAlerts, alert)
}

// PublishReconciliation enqueues a work item for the operator
// reconciliation queue.
func (c *NATSClient) PublishReconciliation(event interface{}) error {
	return c.publish(SubjectReconciliation, event)
}

// PublishAttestation publishes a proof-of-reserves attestation record.
func (c *NATSClient) PublishAttestation(event interface{}) error {
	return c.publish(SubjectReserveAttestations, event)
}
