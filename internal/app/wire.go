package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/matchbook/internal/blob/s3"
	"github.com/alanyoungcy/matchbook/internal/cache/redis"
	"github.com/alanyoungcy/matchbook/internal/config"
	"github.com/alanyoungcy/matchbook/internal/crypto"
	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/notify"
	"github.com/alanyoungcy/matchbook/internal/platform/gateway"
	"github.com/alanyoungcy/matchbook/internal/store/memory"
	"github.com/alanyoungcy/matchbook/internal/store/postgres"
	"github.com/alanyoungcy/matchbook/internal/treasury"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	EscrowStore domain.EscrowStore
	MarketStore domain.MarketStore
	AuditStore  domain.AuditStore

	// Fund custody
	Treasury domain.Treasury

	// Caches
	StatsCache  domain.StatsCache
	OddsCache   domain.OddsCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Receipt signing; nil when the signer is disabled.
	Signer *crypto.Signer
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// The archive sweep reads the stores through narrow cutoff-query
	// interfaces that both backends satisfy.
	var (
		auditArchive  s3blob.AuditArchiveStore
		marketArchive s3blob.MarketArchiveStore
	)

	// --- Settlement stores (memory or PostgreSQL) ---
	switch strings.ToLower(cfg.Settlement.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		escrows := postgres.NewEscrowStore(pool)
		markets := postgres.NewMarketStore(pool)
		audit := postgres.NewAuditStore(pool)

		deps.EscrowStore = escrows
		deps.MarketStore = markets
		deps.AuditStore = audit
		auditArchive = audit
		marketArchive = markets

	default: // memory
		escrows := memory.NewEscrowStore()
		markets := memory.NewMarketStore()
		audit := memory.NewAuditStore()

		deps.EscrowStore = escrows
		deps.MarketStore = markets
		deps.AuditStore = audit
		auditArchive = audit
		marketArchive = markets
	}

	// --- Treasury (in-process vault or HMAC gateway) ---
	switch strings.ToLower(cfg.Treasury.Backend) {
	case "gateway":
		var auth *crypto.GatewayHMAC
		if cfg.Treasury.GatewayKey != "" {
			auth = &crypto.GatewayHMAC{
				Key:    cfg.Treasury.GatewayKey,
				Secret: cfg.Treasury.GatewaySecret,
			}
		}
		gw := gateway.NewClient(cfg.Treasury.GatewayURL, auth)
		if err := gw.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: treasury gateway: %w", err)
		}
		deps.Treasury = gw
	default: // memory
		deps.Treasury = treasury.NewVault()
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.StatsCache = redis.NewStatsCache(redisClient)
	deps.OddsCache = redis.NewOddsCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when the archiver runs) ---
	if cfg.NeedsS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			auditArchive,
			marketArchive,
			deps.AuditStore,
		).WithVerify(deps.BlobReader)
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
	deps.Notifier = notify.NewNotifier(logger, senders...).WithEventFilter(cfg.Notify.Events)

	// --- Receipt signer ---
	if cfg.Signer.Enabled {
		key, err := crypto.LoadKey(crypto.KeySource{
			Inline:      cfg.Signer.PrivateKey,
			KeyfilePath: cfg.Signer.EncryptedKeyPath,
			Passphrase:  cfg.Signer.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer key: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Signer.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	return deps, cleanup, nil
}
