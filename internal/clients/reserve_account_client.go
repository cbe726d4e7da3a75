package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bridge-backend/internal/config"
)

// ReserveAccountClient queries one reserve-holding account (bank or
// custodian API) for its current USD balance. Each account is queried
// independently during a proof-of-reserves run.
type ReserveAccountClient interface {
	GetBalance(ctx context.Context, account config.ReserveAccountConfig) (float64, error)
}

// custodianBalanceResponse is the custodian API's balance payload.
type custodianBalanceResponse struct {
	Account    string  `json:"account"`
	Currency   string  `json:"currency"`
	BalanceUSD float64 `json:"balance_usd"`
	AsOf       string  `json:"as_of"`
}

// HTTPReserveAccountClient reads balances over the custodian HTTP API.
type HTTPReserveAccountClient struct {
	httpClient *http.Client
}

// NewHTTPReserveAccountClient builds the custodian balance client.
func NewHTTPReserveAccountClient() *HTTPReserveAccountClient {
	return &HTTPReserveAccountClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPReserveAccountClient) GetBalance(ctx context.Context, account config.ReserveAccountConfig) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, account.URL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance query for %s failed: %w", account.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("account %s returned %d: %s", account.Name, resp.StatusCode, string(data))
	}

	var balance custodianBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return 0, fmt.Errorf("failed to decode balance for %s: %w", account.Name, err)
	}
	if balance.BalanceUSD < 0 {
		return 0, fmt.Errorf("account %s reported negative balance", account.Name)
	}
	return balance.BalanceUSD, nil
}
