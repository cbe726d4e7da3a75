package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testYAML = `
server:
  host: 127.0.0.1
  port: 9090
database:
  dsn: "host=db user=u dbname=d"
signer:
  maxTxUsd: 25000
  authValidityHours: 12
chains:
  bsc:
    chainId: 56
    rpcEndpoints: ["https://rpc.example.com"]
    gatewayContract: "0x1111111111111111111111111111111111111111"
    tokenContract: "0x2222222222222222222222222222222222222222"
    enabled: true
  eth:
    chainId: 1
    rpcEndpoints: ["https://eth.example.com"]
    gatewayContract: "0x3333333333333333333333333333333333333333"
    enabled: false
mint:
  minUsd: 10
  maxUsd: 5000
  maxPerHour: 5
redeem:
  maxTxUsd: 5000
  dailyMaxUsd: 20000
providers:
  stripe: {}
reserve:
  intervalHours: 6
  accounts:
    - name: main
      type: custodian
      url: https://custodian.example.com
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesEnvironmentSecrets(t *testing.T) {
	t.Setenv("OPS_PRIVATE_KEY", "0xabc123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	t.Setenv("ADMIN_JWT_SECRET", "jwt_x")

	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// 0x prefix is stripped so the hex key is usable directly.
	if cfg.Signer.PrivateKey != "abc123" {
		t.Fatalf("private key = %q, want prefix-stripped value", cfg.Signer.PrivateKey)
	}
	if cfg.Providers["stripe"].WebhookSecret != "whsec_x" {
		t.Fatal("provider webhook secret not read from environment")
	}
	if cfg.Providers["stripe"].SignatureHeader != "X-Webhook-Signature" {
		t.Fatalf("signature header default = %q", cfg.Providers["stripe"].SignatureHeader)
	}
	if cfg.Admin.JWTSecret != "jwt_x" {
		t.Fatal("admin JWT secret not read from environment")
	}

	if cfg.Signer.AuthValidity() != 12*time.Hour {
		t.Fatalf("auth validity = %s, want 12h", cfg.Signer.AuthValidity())
	}
	if cfg.Reserve.Interval() != 6*time.Hour {
		t.Fatalf("reserve interval = %s, want 6h", cfg.Reserve.Interval())
	}
	if cfg.Mint.Window() != 3600 {
		t.Fatalf("mint window default = %d, want 3600", cfg.Mint.Window())
	}
}

func TestLoadFailsWithoutSignerKey(t *testing.T) {
	t.Setenv("OPS_PRIVATE_KEY", "")
	if _, err := Load(writeTestConfig(t)); err == nil {
		t.Fatal("expected validation error without OPS_PRIVATE_KEY")
	}
}

func TestChainByID(t *testing.T) {
	t.Setenv("OPS_PRIVATE_KEY", "abc")
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	chain, err := cfg.ChainByID(56)
	if err != nil {
		t.Fatalf("ChainByID(56) failed: %v", err)
	}
	if chain.GatewayContract != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("wrong chain returned: %+v", chain)
	}
	if chain.ConfirmDeadline() != 60*time.Second {
		t.Fatalf("confirm deadline default = %s, want 60s", chain.ConfirmDeadline())
	}

	// Disabled chains are not addressable.
	if _, err := cfg.ChainByID(1); err == nil {
		t.Fatal("disabled chain resolved")
	}
	if _, err := cfg.ChainByID(999); err == nil {
		t.Fatal("unknown chain resolved")
	}
}

func TestValidateRequiresEnabledChain(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{DSN: "x"},
		Signer:   SignerConfig{PrivateKey: "abc", MaxTxUSD: 100},
		Chains: map[string]ChainConfig{
			"eth": {ChainID: 1, Enabled: false},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with no enabled chains")
	}

	cfg.Chains["eth"] = ChainConfig{ChainID: 1, Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled chain without RPC endpoints")
	}
}
