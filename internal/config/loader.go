package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "BOUNTYPOOL_"

// Load reads the TOML file at path over the built-in defaults, applies
// BOUNTYPOOL_* environment overrides, and returns the result. An empty path
// skips the file. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose BOUNTYPOOL_* variable is set,
// so secrets can be injected at deploy time without touching the file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "SERVER_API_KEYS")
	setStr(&cfg.Server.WebhookSecret, "SERVER_WEBHOOK_SECRET")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.PoolCacheTTL, "SERVER_POOL_CACHE_TTL")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.Database, "DATABASE_DATABASE")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CHAIN_CHAIN_ID")
	setDuration(&cfg.Chain.ConfirmTimeout, "CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "CHAIN_POLL_INTERVAL")
	setInt(&cfg.Chain.GasBufferPercent, "CHAIN_GAS_BUFFER_PERCENT")
	setStringMap(&cfg.Chain.Tokens, "CHAIN_TOKENS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Fees ──
	setInt64(&cfg.Fees.PlatformFeeBps, "FEES_PLATFORM_FEE_BPS")
	setInt64(&cfg.Fees.ContributorFeeBps, "FEES_CONTRIBUTOR_FEE_BPS")
	setStr(&cfg.Fees.PlatformCollector, "FEES_PLATFORM_COLLECTOR")
	setStr(&cfg.Fees.ContributorFeeCollector, "FEES_CONTRIBUTOR_FEE_COLLECTOR")

	// ── Ledger ──
	setStringSlice(&cfg.Ledger.Operators, "LEDGER_OPERATORS")
	setStringMap(&cfg.Ledger.DailyCaps, "LEDGER_DAILY_CAPS")

	// ── Command ──
	setStr(&cfg.Command.BotName, "COMMAND_BOT_NAME")
	setStr(&cfg.Command.MaxBounty, "COMMAND_MAX_BOUNTY")
	setInt(&cfg.Command.RateLimit, "COMMAND_RATE_LIMIT")
	setDuration(&cfg.Command.RateWindow, "COMMAND_RATE_WINDOW")
	setDuration(&cfg.Command.DedupTTL, "COMMAND_DEDUP_TTL")

	// ── Engine ──
	setInt(&cfg.Engine.MaxAttempts, "ENGINE_MAX_ATTEMPTS")
	setDuration(&cfg.Engine.InitialBackoff, "ENGINE_INITIAL_BACKOFF")
	setDuration(&cfg.Engine.MaxBackoff, "ENGINE_MAX_BACKOFF")
	setDuration(&cfg.Engine.LockTTL, "ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.JobTimeout, "ENGINE_JOB_TIMEOUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setStr(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.PruneAudit, "ARCHIVE_PRUNE_AUDIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setStringMap reads "K1=V1,K2=V2" and merges it into dst.
func setStringMap(dst *map[string]string, key string) {
	v := lookup(key)
	if v == "" {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string)
	}
	for _, pair := range splitList(v) {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			(*dst)[k] = strings.TrimSpace(val)
		}
	}
}
