package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bountypool/internal/domain"
)

const operator = "0x00000000000000000000000000000000000000aa"
const collector = "0x00000000000000000000000000000000000000cc"

func localConfig() Config {
	cfg := Defaults()
	cfg.Mode = ModeLocal
	cfg.Ledger.Operators = []string{operator}
	cfg.Fees.PlatformCollector = collector
	cfg.Fees.ContributorFeeCollector = collector
	return cfg
}

func TestDefaultsValidateInLocalMode(t *testing.T) {
	cfg := localConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := localConfig()
	cfg.Mode = "paper"
	cfg.Fees.PlatformFeeBps = 9000
	cfg.Fees.ContributorFeeBps = 2000
	cfg.Ledger.Operators = []string{"not-an-address"}
	cfg.Engine.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "paper"`)
	assert.Contains(t, msg, "must not exceed 10000")
	assert.Contains(t, msg, "invalid operator address")
	assert.Contains(t, msg, "max_attempts")
}

func TestValidateLockTTLCoversJobTimeout(t *testing.T) {
	cfg := localConfig()
	cfg.Engine.LockTTL = duration{15 * time.Minute}
	cfg.Engine.JobTimeout = duration{30 * time.Minute}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_ttl (15m0s) must be at least job_timeout (30m0s)")

	cfg.Engine.LockTTL = duration{30 * time.Minute}
	require.NoError(t, cfg.Validate())
}

func TestValidateServeModeRequiresWallet(t *testing.T) {
	cfg := localConfig()
	cfg.Mode = ModeServe

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "deadbeef"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNativeTokenMapping(t *testing.T) {
	cfg := localConfig()
	cfg.Mode = ModeServe
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Chain.Tokens = map[string]string{"XDC": collector}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a token currency")
}

func TestDailyCaps(t *testing.T) {
	cfg := localConfig()
	cfg.Ledger.DailyCaps = map[string]string{"xdc": "1000", "USDC": "2.5"}

	caps, err := cfg.DailyCaps()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", caps[domain.CurrencyXDC].String())
	assert.Equal(t, "2500000", caps[domain.CurrencyUSDC].String())

	cfg.Ledger.DailyCaps = map[string]string{"DOGE": "1"}
	_, err = cfg.DailyCaps()
	require.Error(t, err)

	cfg.Ledger.DailyCaps = map[string]string{"XDC": "0"}
	_, err = cfg.DailyCaps()
	require.Error(t, err)
}

func TestDailyCapsFollowNativeRates(t *testing.T) {
	cfg := localConfig()
	cfg.Ledger.DailyCaps = map[string]string{"XDC": "2000", "ROXN": "50"}
	cfg.Ledger.NativeRates = map[string]string{"USDC": "0.04", "ROXN": "3"}

	caps, err := cfg.DailyCaps()
	require.NoError(t, err)
	assert.Equal(t, "80000000", caps[domain.CurrencyUSDC].String(), "2000 XDC at 0.04 USDC each")
	assert.Equal(t, "50000000000000000000", caps[domain.CurrencyROXN].String(), "explicit cap wins")

	cfg = localConfig()
	cfg.Ledger.NativeRates = map[string]string{"USDC": "0.04"}
	caps, err = cfg.DailyCaps()
	require.NoError(t, err)
	assert.Equal(t, "40000000", caps[domain.CurrencyUSDC].String())
	assert.NotContains(t, caps, domain.CurrencyROXN)

	cfg.Ledger.NativeRates = map[string]string{"XDC": "1"}
	_, err = cfg.DailyCaps()
	require.Error(t, err)

	cfg.Ledger.NativeRates = map[string]string{"USDC": "-1"}
	_, err = cfg.DailyCaps()
	require.Error(t, err)
}

func TestMaxBounty(t *testing.T) {
	cfg := localConfig()
	d, err := cfg.MaxBounty()
	require.NoError(t, err)
	assert.Equal(t, "1000000", d.String())

	cfg.Command.MaxBounty = "-5"
	_, err = cfg.MaxBounty()
	require.Error(t, err)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "local"
log_level = "debug"

[ledger]
operators = ["` + operator + `"]

[engine]
max_attempts = 5
initial_backoff = "500ms"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("BOUNTYPOOL_SERVER_PORT", "9090")
	t.Setenv("BOUNTYPOOL_LEDGER_DAILY_CAPS", "ROXN=50, USDC=10")
	t.Setenv("BOUNTYPOOL_COMMAND_RATE_WINDOW", "2m")
	t.Setenv("BOUNTYPOOL_SERVER_API_KEYS", "a, b ,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.InitialBackoff.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Command.RateWindow.Duration)
	assert.Equal(t, []string{"a", "b"}, cfg.Server.APIKeys)
	assert.Equal(t, "50", cfg.Ledger.DailyCaps["ROXN"])
	assert.Equal(t, "10", cfg.Ledger.DailyCaps["USDC"])
	assert.Equal(t, "1000", cfg.Ledger.DailyCaps["XDC"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := localConfig()
	cfg.Wallet.PrivateKey = "secret-key"
	cfg.Database.Password = "pg"
	cfg.S3.SecretKey = "s3"
	cfg.Server.APIKeys = []string{"k1", "k2"}
	cfg.Server.WebhookSecret = "hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Database.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.WebhookSecret)
	assert.Equal(t, []string{"***", "***"}, out.Server.APIKeys)
	assert.Empty(t, out.Redis.Password)

	out.Ledger.DailyCaps["XDC"] = "1"
	assert.Equal(t, "1000", cfg.Ledger.DailyCaps["XDC"])
	assert.Equal(t, "secret-key", cfg.Wallet.PrivateKey)
}
