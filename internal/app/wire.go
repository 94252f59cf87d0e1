package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/bountypool/internal/blob/s3"
	"github.com/alanyoungcy/bountypool/internal/cache/local"
	"github.com/alanyoungcy/bountypool/internal/cache/redis"
	"github.com/alanyoungcy/bountypool/internal/chain/evm"
	"github.com/alanyoungcy/bountypool/internal/chain/simulated"
	"github.com/alanyoungcy/bountypool/internal/config"
	"github.com/alanyoungcy/bountypool/internal/crypto"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/notify"
	"github.com/alanyoungcy/bountypool/internal/server/handler"
	"github.com/alanyoungcy/bountypool/internal/store/memory"
	"github.com/alanyoungcy/bountypool/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application runs on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LedgerStore       domain.LedgerStore
	DistributionStore domain.DistributionStore
	AuditStore        domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Deduper     domain.Deduper
	EventBus    domain.EventBus
	History     domain.EventHistory
	Snapshots   domain.SnapshotCache

	// Chain
	Chain domain.ChainAdapter

	// Archive is nil unless archive.enabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks are reported by /api/health.
	HealthChecks map[string]handler.HealthCheckFunc

	// Maintenance are periodic jobs owned by in-process caches.
	Maintenance map[string]func()
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheckFunc),
		Maintenance:  make(map[string]func()),
	}

	var err error
	switch cfg.Mode {
	case config.ModeServe:
		err = wireServe(ctx, cfg, deps, &closers, logger)
	case config.ModeLocal:
		wireLocal(deps)
	default:
		err = fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.Archive.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.HealthChecks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.LedgerStore,
			deps.AuditStore,
			logger,
		).WithPruneAudit(cfg.Archive.PruneAudit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireServe connects PostgreSQL, Redis, and the EVM chain.
func wireServe(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func(), logger *slog.Logger) error {
	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, PostgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	*closers = append(*closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
		}
	}

	pool := pgClient.Pool()
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.DistributionStore = postgres.NewDistributionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	*closers = append(*closers, func() { _ = redisClient.Close() })

	bus := redis.NewEventBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient).WithLogger(logger)
	deps.Deduper = redis.NewDeduper(redisClient)
	deps.EventBus = bus
	deps.History = bus
	deps.Snapshots = redis.NewSnapshotCache(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- Chain ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	signer, err := crypto.NewSigner(key, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	tokens, err := tokenContracts(cfg.Chain.Tokens)
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	adapter, client, err := evm.Dial(ctx, cfg.Chain.RPCURL, signer, evm.Config{
		Tokens:           tokens,
		ConfirmTimeout:   cfg.Chain.ConfirmTimeout.Duration,
		PollInterval:     cfg.Chain.PollInterval.Duration,
		GasBufferPercent: uint64(max(cfg.Chain.GasBufferPercent, 0)),
	}, logger)
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	*closers = append(*closers, client.Close)
	deps.Chain = adapter
	deps.HealthChecks["chain"] = func(ctx context.Context) error {
		_, err := client.BlockNumber(ctx)
		return err
	}

	logger.InfoContext(ctx, "payout wallet ready",
		slog.String("address", adapter.Address().Hex()),
		slog.Int64("chain_id", cfg.Chain.ChainID),
	)
	return nil
}

// wireLocal builds the in-process stack: memory stores, local caches, and
// the simulated chain.
func wireLocal(deps *Dependencies) {
	deps.LedgerStore = memory.NewLedgerStore()
	deps.DistributionStore = memory.NewDistributionStore()
	deps.AuditStore = memory.NewAuditStore()

	bus := local.NewEventBus(0)
	dedup := local.NewDeduper()
	deps.RateLimiter = local.NewRateLimiter()
	deps.LockManager = local.NewLockManager()
	deps.Deduper = dedup
	deps.EventBus = bus
	deps.History = bus
	deps.Snapshots = local.NewSnapshotCache()
	deps.Maintenance["dedup_cleanup"] = dedup.Cleanup

	deps.Chain = simulated.New(1).WithLatency(50 * time.Millisecond)
}

// PostgresConfig maps the database section to the store client config.
func PostgresConfig(cfg *config.Config) postgres.ClientConfig {
	return postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	}
}

func tokenContracts(in map[string]string) (map[domain.Currency]common.Address, error) {
	out := make(map[domain.Currency]common.Address, len(in))
	for code, addr := range in {
		c, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, err
		}
		norm, err := domain.NormalizeAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", c, err)
		}
		out[c] = common.HexToAddress(norm)
	}
	return out, nil
}
