package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bridge-backend/internal/config"
)

// PayoutInitiator is the payout-processor surface the redeem
// orchestrator depends on. The processor is an external collaborator;
// only initiation and status lookup are consumed.
type PayoutInitiator interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (string, error)
}

// PayoutRequest asks the processor to pay usdAmount to the destination
// after a confirmed burn. The burn tx hash travels along for the
// processor's own reconciliation trail.
type PayoutRequest struct {
	RedemptionID string  `json:"redemption_id"`
	Method       string  `json:"method"`
	Destination  string  `json:"destination"`
	USDAmount    float64 `json:"usd_amount"`
	BurnTxHash   string  `json:"burn_tx_hash"`
}

// PayoutResponse is the processor's acknowledgement.
type PayoutResponse struct {
	PayoutID string `json:"payout_id"`
	Status   string `json:"status"`
}

// PayoutClient is the HTTP implementation of PayoutInitiator.
type PayoutClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPayoutClient builds the payout-processor API client.
func NewPayoutClient(cfg config.PayoutConfig) *PayoutClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &PayoutClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *PayoutClient) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("payout processor returned %d: %s", resp.StatusCode, string(data))
	}

	var payout PayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&payout); err != nil {
		return nil, fmt.Errorf("failed to decode payout response: %w", err)
	}
	if payout.PayoutID == "" {
		return nil, fmt.Errorf("payout processor returned empty payout id")
	}
	return &payout, nil
}

func (c *PayoutClient) GetPayoutStatus(ctx context.Context, payoutID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payouts/"+payoutID, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("payout status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payout processor returned %d", resp.StatusCode)
	}

	var payout PayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&payout); err != nil {
		return "", fmt.Errorf("failed to decode payout status: %w", err)
	}
	return payout.Status, nil
}
