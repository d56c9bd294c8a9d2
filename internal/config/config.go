package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"escrowlink/internal/contracts"
	"escrowlink/internal/units"
)

// DeploymentConfig represents deployments.json (or deployments.yaml).
type DeploymentConfig struct {
	ChainID  int64  `json:"chainId" yaml:"chainId"`
	RPCURL   string `json:"rpcUrl" yaml:"rpcUrl"`
	Currency struct {
		Symbol   string `json:"symbol" yaml:"symbol"`
		Decimals int    `json:"decimals" yaml:"decimals"`
	} `json:"currency" yaml:"currency"`
	Contracts struct {
		MilestoneEscrow string `json:"MilestoneEscrow" yaml:"MilestoneEscrow"`
	} `json:"contracts" yaml:"contracts"`
}

// AppConfig ties together deployment info and derived values.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Wallet     WalletConfig
}

type ServiceConfig struct {
	HTTPPort               int
	HMACSecret             string
	HMACClockSkew          time.Duration
	IdempotencyWindow      time.Duration
	IdempotencyStorePath   string
	IdempotencyPostgresDSN string
	SubmitRateLimit        float64
	SubmitBurst            int
	LogLevel               string
	LogFormat              string
}

type ChainConfig struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	CurrencySymbol  string
	Decimals        int
	PollInterval    time.Duration
}

type WalletConfig struct {
	PrivateKey         string
	KeystoreDir        string
	KeystoreAccount    string
	KeystorePassphrase string
	UseKeyring         bool
	KeyringBackends    []string
}

const (
	defaultDeploymentsPath = "deployments.json"
	// maxDecimals is the most fractional digits a uint256 amount can carry.
	maxDecimals = 77
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	return LoadFrom(envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
}

// LoadFrom reads the deployment file at path, if present, and applies
// environment overrides. A missing file is not an error.
func LoadFrom(path string) (*AppConfig, error) {
	deployCfg, err := loadDeployments(path)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:               envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:             envOr("HMAC_SECRET", ""),
		HMACClockSkew:          time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow:      time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 86400)) * time.Second,
		IdempotencyStorePath:   envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "escrowlink-idem.json")),
		IdempotencyPostgresDSN: envOr("IDEMPOTENCY_POSTGRES_DSN", ""),
		SubmitRateLimit:        envOrFloat("SUBMIT_RATE_LIMIT", 2),
		SubmitBurst:            envOrInt("SUBMIT_RATE_BURST", 4),
		LogLevel:               envOr("LOG_LEVEL", "info"),
		LogFormat:              envOr("LOG_FORMAT", "json"),
	}

	decimals := deployCfg.Currency.Decimals
	if decimals == 0 {
		decimals = units.EtherDecimals
	}
	chainCfg := ChainConfig{
		RPCURL:          envOr("ESCROW_RPC_URL", deployCfg.RPCURL),
		ChainID:         deployCfg.ChainID,
		ContractAddress: envOr("ESCROW_CONTRACT", firstNonEmpty(deployCfg.Contracts.MilestoneEscrow, contracts.DefaultAddress)),
		CurrencySymbol:  firstNonEmpty(deployCfg.Currency.Symbol, "ETH"),
		Decimals:        envOrInt("ESCROW_DECIMALS", decimals),
		PollInterval:    time.Duration(envOrInt("ESCROW_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
	}
	if chainCfg.Decimals <= 0 || chainCfg.Decimals > maxDecimals {
		return nil, fmt.Errorf("currency decimals must be between 1 and %d, got %d", maxDecimals, chainCfg.Decimals)
	}

	walletCfg := WalletConfig{
		PrivateKey:         envOr("ESCROW_PRIVATE_KEY", ""),
		KeystoreDir:        envOr("ESCROW_KEYSTORE_DIR", ""),
		KeystoreAccount:    envOr("ESCROW_KEYSTORE_ACCOUNT", ""),
		KeystorePassphrase: envOr("ESCROW_KEYSTORE_PASSPHRASE", ""),
		UseKeyring:         envOrBool("ESCROW_KEYRING", false),
		KeyringBackends:    envOrList("ESCROW_KEYRING_BACKENDS"),
	}

	return &AppConfig{
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		Wallet:     walletCfg,
	}, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	var cfg DeploymentConfig
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = json.Unmarshal(raw, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrList(key string) []string {
	val := envOr(key, "")
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
