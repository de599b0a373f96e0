// Package config handles configuration loading and validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/core"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Chain       ChainConfig       `yaml:"chain"`
	Wallet      WalletConfig      `yaml:"wallet"`
	Sync        SyncConfig        `yaml:"sync"`
	Orders      OrdersConfig      `yaml:"orders"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Storage     StorageConfig     `yaml:"storage"`
	Alert       AlertConfig       `yaml:"alert"`
}

// AppConfig selects the deployment and the account to mirror.
type AppConfig struct {
	Network      string   `yaml:"network"`
	ProgramID    string   `yaml:"program_id"`
	DexProgramID string   `yaml:"dex_program_id"`
	USDCMint     string   `yaml:"usdc_mint"`
	CrossMargin  bool     `yaml:"cross_margin"`
	Asset        string   `yaml:"asset"` // legacy accounts only
	Subaccount   uint8    `yaml:"subaccount"`
	Assets       []string `yaml:"assets"` // markets to load; empty loads all
	Whitelisted  bool     `yaml:"whitelisted"`
}

// ChainConfig contains the RPC endpoints and submission settings.
type ChainConfig struct {
	RPCURL         string  `yaml:"rpc_url"`
	WSURL          string  `yaml:"ws_url"`
	Commitment     string  `yaml:"commitment"`
	RateLimit      float64 `yaml:"rate_limit"`
	Burst          int     `yaml:"burst"`
	MaxRetries     int     `yaml:"max_retries"`
	SkipPreflight  bool    `yaml:"skip_preflight"`
	TxMaxRetries   uint    `yaml:"tx_max_retries"`
	FetchBatchSize int     `yaml:"fetch_batch_size"`
	// ConfirmTimeout bounds the wait for a sent transaction to confirm.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// WalletConfig locates the signing key.
type WalletConfig struct {
	KeypairPath string `yaml:"keypair_path"`
	PrivateKey  Secret `yaml:"private_key"`
	// Delegator is the authority being acted for when the key is a delegate.
	Delegator string `yaml:"delegator"`
}

// SyncConfig controls the account store.
type SyncConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	StuckTimeout       time.Duration `yaml:"stuck_timeout"`
	MarketPollInterval time.Duration `yaml:"market_poll_interval"`
	Throttle           bool          `yaml:"throttle"`
	RefreshAfterSubmit bool          `yaml:"refresh_after_submit"`
}

// OrdersConfig contains batching limits.
type OrdersConfig struct {
	InstructionsPerTx int `yaml:"instructions_per_tx"`
	TriggerFetchBatch int `yaml:"trigger_fetch_batch"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	BookPoolSize   int `yaml:"book_pool_size"`
	BookPoolBuffer int `yaml:"book_pool_buffer"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTraces  bool `yaml:"stdout_traces"`
}

// StorageConfig locates the snapshot database. An empty path disables it.
type StorageConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// AlertConfig contains margin alert channels. Empty values disable a channel.
type AlertConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig reads filename, expands ${ENV} references, applies defaults for
// omitted fields and validates.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and reports all failures together.
func (c *Config) Validate() error {
	var errs []string
	for _, check := range []func() error{
		c.validateApp,
		c.validateChain,
		c.validateWallet,
		c.validateSync,
		c.validateOrders,
		c.validateSystem,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func validatePublicKey(field, value string, required bool) error {
	if value == "" {
		if required {
			return ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
	if _, err := solana.PublicKeyFromBase58(value); err != nil {
		return ValidationError{Field: field, Value: value, Message: "not a valid base58 public key"}
	}
	return nil
}

func (c *Config) validateApp() error {
	validNetworks := []string{"mainnet", "devnet", "localnet"}
	if !contains(validNetworks, c.App.Network) {
		return ValidationError{
			Field:   "app.network",
			Value:   c.App.Network,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validNetworks, ", ")),
		}
	}
	for field, value := range map[string]string{
		"app.program_id":     c.App.ProgramID,
		"app.dex_program_id": c.App.DexProgramID,
		"app.usdc_mint":      c.App.USDCMint,
	} {
		if err := validatePublicKey(field, value, true); err != nil {
			return err
		}
	}
	if !c.App.CrossMargin {
		if _, err := assets.Parse(c.App.Asset); err != nil {
			return ValidationError{Field: "app.asset", Value: c.App.Asset, Message: "legacy accounts need a valid asset"}
		}
	}
	for _, a := range c.App.Assets {
		if _, err := assets.Parse(a); err != nil {
			return ValidationError{Field: "app.assets", Value: a, Message: "unknown asset"}
		}
	}
	return nil
}

func (c *Config) validateChain() error {
	if c.Chain.RPCURL == "" {
		return ValidationError{Field: "chain.rpc_url", Message: "rpc url is required"}
	}
	if c.Chain.WSURL == "" {
		return ValidationError{Field: "chain.ws_url", Message: "websocket url is required"}
	}
	validCommitments := []string{
		string(core.CommitmentProcessed), string(core.CommitmentConfirmed), string(core.CommitmentFinalized),
	}
	if !contains(validCommitments, c.Chain.Commitment) {
		return ValidationError{
			Field:   "chain.commitment",
			Value:   c.Chain.Commitment,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validCommitments, ", ")),
		}
	}
	if c.Chain.RateLimit < 0 {
		return ValidationError{Field: "chain.rate_limit", Value: c.Chain.RateLimit, Message: "must not be negative"}
	}
	if c.Chain.FetchBatchSize < 1 || c.Chain.FetchBatchSize > 100 {
		return ValidationError{Field: "chain.fetch_batch_size", Value: c.Chain.FetchBatchSize, Message: "must be between 1 and 100"}
	}
	return nil
}

func (c *Config) validateWallet() error {
	if c.Wallet.KeypairPath == "" && c.Wallet.PrivateKey == "" {
		return ValidationError{Field: "wallet", Message: "keypair_path or private_key is required"}
	}
	return validatePublicKey("wallet.delegator", c.Wallet.Delegator, false)
}

func (c *Config) validateSync() error {
	for field, d := range map[string]time.Duration{
		"sync.poll_interval":        c.Sync.PollInterval,
		"sync.refresh_interval":     c.Sync.RefreshInterval,
		"sync.stuck_timeout":        c.Sync.StuckTimeout,
		"sync.market_poll_interval": c.Sync.MarketPollInterval,
	} {
		if d <= 0 {
			return ValidationError{Field: field, Value: d, Message: "must be positive"}
		}
	}
	return nil
}

func (c *Config) validateOrders() error {
	if c.Orders.InstructionsPerTx < 1 {
		return ValidationError{Field: "orders.instructions_per_tx", Value: c.Orders.InstructionsPerTx, Message: "must be at least 1"}
	}
	if c.Orders.TriggerFetchBatch < 1 {
		return ValidationError{Field: "orders.trigger_fetch_batch", Value: c.Orders.TriggerFetchBatch, Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// ProgramIDs returns the parsed program and dex program ids.
func (c *Config) ProgramIDs() (program, dex solana.PublicKey, err error) {
	if program, err = solana.PublicKeyFromBase58(c.App.ProgramID); err != nil {
		return program, dex, fmt.Errorf("program id: %w", err)
	}
	if dex, err = solana.PublicKeyFromBase58(c.App.DexProgramID); err != nil {
		return program, dex, fmt.Errorf("dex program id: %w", err)
	}
	return program, dex, nil
}

// MarketAssets returns the assets whose markets are loaded.
func (c *Config) MarketAssets() []assets.Asset {
	if len(c.App.Assets) == 0 {
		return assets.All()
	}
	out := make([]assets.Asset, 0, len(c.App.Assets))
	for _, s := range c.App.Assets {
		if a, err := assets.Parse(s); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// String returns the configuration as YAML with secrets masked.
func (c *Config) String() string {
	configCopy := *c
	configCopy.Chain.RPCURL = maskURL(c.Chain.RPCURL)
	configCopy.Chain.WSURL = maskURL(c.Chain.WSURL)
	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// maskURL hides the query string and path, where RPC providers put API keys.
func maskURL(s string) string {
	i := strings.Index(s, "://")
	if i < 0 {
		return maskString(s)
	}
	rest := s[i+3:]
	if j := strings.IndexAny(rest, "/?"); j >= 0 {
		return s[:i+3] + rest[:j] + "/" + strings.Repeat("*", 4)
	}
	return s
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a configuration for a local validator.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Network:      "localnet",
			ProgramID:    "ZETAxsqBRek56DhiGXrn75yj2NHU3aYUnxvHXpkf3aD",
			DexProgramID: "zDEXqXEG7gAyxb1Kg9mK5fPnUdENCGKzWrM21RMdWRq",
			USDCMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			CrossMargin:  true,
		},
		Chain: ChainConfig{
			RPCURL:         "http://127.0.0.1:8899",
			WSURL:          "ws://127.0.0.1:8900",
			Commitment:     string(core.CommitmentConfirmed),
			RateLimit:      10,
			Burst:          20,
			MaxRetries:     3,
			FetchBatchSize: 100,
			ConfirmTimeout: 60 * time.Second,
		},
		Wallet: WalletConfig{
			KeypairPath: "~/.config/solana/id.json",
		},
		Sync: SyncConfig{
			PollInterval:       time.Second,
			RefreshInterval:    20 * time.Second,
			StuckTimeout:       10 * time.Second,
			MarketPollInterval: 2 * time.Second,
			RefreshAfterSubmit: true,
		},
		Orders: OrdersConfig{
			InstructionsPerTx: 5,
			TriggerFetchBatch: 100,
		},
		Concurrency: ConcurrencyConfig{
			BookPoolSize:   8,
			BookPoolBuffer: 64,
		},
		System: SystemConfig{
			LogLevel:  "INFO",
			LogFormat: "console",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
