package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. It is loaded once at
// startup and passed to components by the caller; there is no package
// global, so tests can build configs directly.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	NATS      NATSConfig                `yaml:"nats"`
	Signer    SignerConfig              `yaml:"signer"`
	Chains    map[string]ChainConfig    `yaml:"chains"`
	Mint      MintConfig                `yaml:"mint"`
	Redeem    RedeemConfig              `yaml:"redeem"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Reserve   ReserveConfig             `yaml:"reserve"`
	Payout    PayoutConfig              `yaml:"payout"`
	Admin     AdminConfig               `yaml:"admin"`
	CORS      CORSConfig                `yaml:"cors"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// SignerConfig holds the operations key and the per-transaction notional
// ceiling. The key is only ever read from the environment, kept in
// memory, and never logged.
type SignerConfig struct {
	PrivateKey      string  `yaml:"-"`
	MaxTxUSD        float64 `yaml:"maxTxUsd"`
	AuthValidityHrs int     `yaml:"authValidityHours"`
}

// AuthValidity returns the signed-authorization expiry horizon
// (default 24h).
func (s SignerConfig) AuthValidity() time.Duration {
	if s.AuthValidityHrs <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.AuthValidityHrs) * time.Hour
}

// ChainConfig describes one supported chain: RPC endpoints, the gateway
// contract that verifies signed authorizations, and the token contract
// for balance reads.
type ChainConfig struct {
	ChainID         int      `yaml:"chainId"`
	Name            string   `yaml:"name"`
	RPCEndpoints    []string `yaml:"rpcEndpoints"`
	GatewayContract string   `yaml:"gatewayContract"`
	TokenContract   string   `yaml:"tokenContract"`
	ConfirmTimeout  int      `yaml:"confirmTimeoutSeconds"`
	Enabled         bool     `yaml:"enabled"`
}

// ConfirmDeadline returns the per-submission confirmation timeout
// (default 60s).
func (c ChainConfig) ConfirmDeadline() time.Duration {
	if c.ConfirmTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.ConfirmTimeout) * time.Second
}

type MintConfig struct {
	MinUSD        float64 `yaml:"minUsd"`
	MaxUSD        float64 `yaml:"maxUsd"`
	MaxPerHour    int     `yaml:"maxPerHour"`
	WindowSeconds int     `yaml:"windowSeconds"`
}

func (m MintConfig) Window() int {
	if m.WindowSeconds <= 0 {
		return 3600
	}
	return m.WindowSeconds
}

type RedeemConfig struct {
	MaxTxUSD    float64 `yaml:"maxTxUsd"`
	DailyMaxUSD float64 `yaml:"dailyMaxUsd"`
}

// ProviderConfig holds the shared webhook secret for one payment
// provider. Secrets are environment-only.
type ProviderConfig struct {
	WebhookSecret   string `yaml:"-"`
	SignatureHeader string `yaml:"signatureHeader"`
}

// ReserveAccountConfig is one reserve-holding account to query during a
// proof-of-reserves run.
type ReserveAccountConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	URL  string `yaml:"url"`
}

type ReserveConfig struct {
	IntervalHours int                    `yaml:"intervalHours"`
	Accounts      []ReserveAccountConfig `yaml:"accounts"`
}

func (r ReserveConfig) Interval() time.Duration {
	if r.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.IntervalHours) * time.Hour
}

type PayoutConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"-"`
	Timeout int    `yaml:"timeout"`
}

type AdminConfig struct {
	JWTSecret string `yaml:"-"`
	APIKey    string `yaml:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Load reads the YAML file at configPath (default config.yaml, preferring
// config.local.yaml when present) and applies environment overrides.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants startup depends on.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Signer.PrivateKey == "" {
		return fmt.Errorf("OPS_PRIVATE_KEY is required")
	}
	if c.Signer.MaxTxUSD <= 0 {
		return fmt.Errorf("signer.maxTxUsd must be positive")
	}
	enabled := 0
	for name, chain := range c.Chains {
		if !chain.Enabled {
			continue
		}
		enabled++
		if len(chain.RPCEndpoints) == 0 {
			return fmt.Errorf("chain %s has no RPC endpoints", name)
		}
		if chain.GatewayContract == "" {
			return fmt.Errorf("chain %s has no gateway contract", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled chains configured")
	}
	return nil
}

// ChainByID finds the enabled chain configuration for a chain id.
func (c *Config) ChainByID(chainID int) (*ChainConfig, error) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID && chain.Enabled {
			cc := chain
			return &cc, nil
		}
	}
	return nil, fmt.Errorf("chain %d not found or disabled", chainID)
}

func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
	}

	// Key material and secrets are environment-only; they never appear
	// in the YAML file.
	cfg.Signer.PrivateKey = strings.TrimPrefix(os.Getenv("OPS_PRIVATE_KEY"), "0x")
	cfg.Payout.APIKey = os.Getenv("PAYOUT_API_KEY")
	cfg.Admin.JWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	cfg.Admin.APIKey = os.Getenv("POR_API_KEY")

	for name, provider := range cfg.Providers {
		envKey := fmt.Sprintf("%s_WEBHOOK_SECRET", strings.ToUpper(name))
		if secret := os.Getenv(envKey); secret != "" {
			provider.WebhookSecret = secret
		}
		if provider.SignatureHeader == "" {
			provider.SignatureHeader = "X-Webhook-Signature"
		}
		cfg.Providers[name] = provider
	}

	for name, chain := range cfg.Chains {
		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(name))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			chain.RPCEndpoints = strings.Split(rpcEndpoints, ",")
		}
		envGateway := fmt.Sprintf("%s_GATEWAY_CONTRACT", strings.ToUpper(name))
		if gateway := os.Getenv(envGateway); gateway != "" {
			chain.GatewayContract = gateway
		}
		envToken := fmt.Sprintf("%s_TOKEN_CONTRACT", strings.ToUpper(name))
		if token := os.Getenv(envToken); token != "" {
			chain.TokenContract = token
		}
		cfg.Chains[name] = chain
	}

	if payoutURL := os.Getenv("PAYOUT_BASE_URL"); payoutURL != "" {
		cfg.Payout.BaseURL = payoutURL
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		cfg.CORS.AllowedOrigins = cfg.CORS.AllowedOrigins[:0]
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}
