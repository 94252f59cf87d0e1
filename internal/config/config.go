// Package config defines the bountypool configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BOUNTYPOOL_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Fees     FeesConfig     `toml:"fees"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Command  CommandConfig  `toml:"command"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeys authorise /api requests. Empty disables API key checks.
	APIKeys []string `toml:"api_keys"`
	// WebhookSecret verifies X-Signature-256 on /api/commands.
	WebhookSecret string `toml:"webhook_secret"`
	// RateLimit is requests per second allowed per client.
	RateLimit    int      `toml:"rate_limit"`
	PoolCacheTTL duration `toml:"pool_cache_ttl"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig holds EVM RPC and token parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
	// Tokens maps a currency code to its ERC-20 contract address.
	Tokens           map[string]string `toml:"tokens"`
	ConfirmTimeout   duration          `toml:"confirm_timeout"`
	PollInterval     duration          `toml:"poll_interval"`
	GasBufferPercent int               `toml:"gas_buffer_percent"`
}

// WalletConfig holds the payout hot wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// FeesConfig holds fee rates in basis points and their collectors.
type FeesConfig struct {
	PlatformFeeBps          int64  `toml:"platform_fee_bps"`
	ContributorFeeBps       int64  `toml:"contributor_fee_bps"`
	PlatformCollector       string `toml:"platform_collector"`
	ContributorFeeCollector string `toml:"contributor_fee_collector"`
}

// LedgerConfig holds ledger policy.
type LedgerConfig struct {
	Operators []string `toml:"operators"`
	// DailyCaps maps a currency code to a per-pool daily funding cap in
	// whole display units, e.g. {XDC = "1000"}.
	DailyCaps map[string]string `toml:"daily_caps"`
	// NativeRates maps a token currency code to how many of its units one
	// native coin is worth, e.g. {USDC = "0.05"}. A token without an explicit
	// cap is capped at the native cap converted at this rate.
	NativeRates map[string]string `toml:"native_rates"`
}

// CommandConfig configures comment command handling.
type CommandConfig struct {
	BotName    string   `toml:"bot_name"`
	MaxBounty  string   `toml:"max_bounty"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	DedupTTL   duration `toml:"dedup_ttl"`
}

// EngineConfig configures the distribution engine.
type EngineConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	LockTTL        duration `toml:"lock_ttl"`
	JobTimeout     duration `toml:"job_timeout"`
}

// ArchiveConfig schedules the ledger history archive.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`
	// RetentionDays is how old an entry must be before it is archived.
	RetentionDays int  `toml:"retention_days"`
	PruneAudit    bool `toml:"prune_audit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values in
// config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimit:    20,
			PoolCacheTTL: duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bountypool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "bountypool",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "bountypool-archive",
			ForcePathStyle: true,
		},
		Chain: ChainConfig{
			RPCURL:           "https://erpc.xinfin.network",
			ChainID:          50,
			Tokens:           map[string]string{},
			ConfirmTimeout:   duration{2 * time.Minute},
			PollInterval:     duration{2 * time.Second},
			GasBufferPercent: 20,
		},
		Fees: FeesConfig{
			PlatformFeeBps:    250,
			ContributorFeeBps: 100,
		},
		Ledger: LedgerConfig{
			DailyCaps: map[string]string{
				string(domain.CurrencyXDC): "1000",
			},
		},
		Command: CommandConfig{
			BotName:    "roxonn",
			MaxBounty:  "1000000",
			RateLimit:  20,
			RateWindow: duration{time.Minute},
			DedupTTL:   duration{7 * 24 * time.Hour},
		},
		Engine: EngineConfig{
			MaxAttempts:    3,
			InitialBackoff: duration{2 * time.Second},
			MaxBackoff:     duration{30 * time.Second},
			LockTTL:        duration{35 * time.Minute},
			JobTimeout:     duration{30 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			Prefix:        "bountypool",
			RetentionDays: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"distribution_failed", "bounty_paid", "pool_funded"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Mode names.
const (
	ModeServe = "serve"
	ModeLocal = "local"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeServe: true,
	ModeLocal: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: serve, local)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Fees
	if c.Fees.PlatformFeeBps < 0 || c.Fees.ContributorFeeBps < 0 {
		add("fees: rates must not be negative")
	}
	if c.Fees.PlatformFeeBps+c.Fees.ContributorFeeBps > 10_000 {
		add("fees: platform_fee_bps + contributor_fee_bps must not exceed 10000")
	}
	if c.Fees.PlatformFeeBps > 0 && !validAddress(c.Fees.PlatformCollector) {
		add("fees: platform_collector must be a valid address when platform_fee_bps > 0")
	}
	if c.Fees.ContributorFeeBps > 0 && !validAddress(c.Fees.ContributorFeeCollector) {
		add("fees: contributor_fee_collector must be a valid address when contributor_fee_bps > 0")
	}

	// Ledger
	if len(c.Ledger.Operators) == 0 {
		add("ledger: at least one operator address is required")
	}
	for _, op := range c.Ledger.Operators {
		if !validAddress(op) {
			add("ledger: invalid operator address %q", op)
		}
	}
	if _, err := c.DailyCaps(); err != nil {
		add("ledger: %v", err)
	}

	// Command
	if _, err := c.MaxBounty(); err != nil {
		add("command: %v", err)
	}
	if c.Command.RateLimit < 0 {
		add("command: rate_limit must be >= 0")
	}

	// Engine
	if c.Engine.MaxAttempts < 1 {
		add("engine: max_attempts must be >= 1")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		add("engine: lock_ttl must be positive")
	}
	if c.Engine.JobTimeout.Duration <= 0 {
		add("engine: job_timeout must be positive")
	} else if c.Engine.LockTTL.Duration < c.Engine.JobTimeout.Duration {
		add("engine: lock_ttl (%s) must be at least job_timeout (%s)", c.Engine.LockTTL.Duration, c.Engine.JobTimeout.Duration)
	}

	if mode == ModeServe {
		// Database
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				add("database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				add("database: port must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.Database == "" {
				add("database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			add("database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			add("database: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}

		// Chain + wallet
		if c.Chain.RPCURL == "" {
			add("chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			add("chain: chain_id must be positive")
		}
		for code, addr := range c.Chain.Tokens {
			cur, err := domain.ParseCurrency(code)
			if err != nil || cur.Kind() == domain.KindNative {
				add("chain: tokens: %q is not a token currency", code)
			}
			if !validAddress(addr) {
				add("chain: tokens: invalid contract address %q for %s", addr, code)
			}
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode serve")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Cron == "" {
			add("archive: cron must not be empty when enabled")
		}
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("archive: s3.bucket and s3.region are required when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validAddress(s string) bool {
	_, err := domain.NormalizeAddress(s)
	return err == nil
}
