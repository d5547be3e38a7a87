package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MATCHBOOK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MATCHBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.Level, "MATCHBOOK_LOG_LEVEL")
	setStr(&cfg.Log.Format, "MATCHBOOK_LOG_FORMAT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MATCHBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MATCHBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MATCHBOOK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.OpsToken, "MATCHBOOK_SERVER_OPS_TOKEN")
	setInt(&cfg.Server.RateLimit, "MATCHBOOK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MATCHBOOK_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.IdentitySkew, "MATCHBOOK_SERVER_IDENTITY_SKEW")

	// ── Settlement ──
	setUint64(&cfg.Settlement.FeeBps, "MATCHBOOK_SETTLEMENT_FEE_BPS")
	setStr(&cfg.Settlement.Backend, "MATCHBOOK_SETTLEMENT_BACKEND")
	setBool(&cfg.Settlement.DistributedLocks, "MATCHBOOK_SETTLEMENT_DISTRIBUTED_LOCKS")
	setDuration(&cfg.Settlement.LockTTL, "MATCHBOOK_SETTLEMENT_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MATCHBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "MATCHBOOK_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MATCHBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MATCHBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MATCHBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MATCHBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MATCHBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MATCHBOOK_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "MATCHBOOK_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "MATCHBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MATCHBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MATCHBOOK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MATCHBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MATCHBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MATCHBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MATCHBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MATCHBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MATCHBOOK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MATCHBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MATCHBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "MATCHBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MATCHBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MATCHBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MATCHBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MATCHBOOK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MATCHBOOK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MATCHBOOK_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "MATCHBOOK_ARCHIVE_CRON")

	// ── Treasury ──
	setStr(&cfg.Treasury.Backend, "MATCHBOOK_TREASURY_BACKEND")
	setStr(&cfg.Treasury.GatewayURL, "MATCHBOOK_TREASURY_GATEWAY_URL")
	setStr(&cfg.Treasury.GatewayKey, "MATCHBOOK_TREASURY_GATEWAY_KEY")
	setStr(&cfg.Treasury.GatewaySecret, "MATCHBOOK_TREASURY_GATEWAY_SECRET")

	// ── Signer ──
	setBool(&cfg.Signer.Enabled, "MATCHBOOK_SIGNER_ENABLED")
	setStr(&cfg.Signer.PrivateKey, "MATCHBOOK_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "MATCHBOOK_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "MATCHBOOK_SIGNER_KEY_PASSWORD")
	setInt(&cfg.Signer.ChainID, "MATCHBOOK_SIGNER_CHAIN_ID")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MATCHBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MATCHBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MATCHBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MATCHBOOK_NOTIFY_EVENTS")
	setUint64(&cfg.Notify.MinAmount, "MATCHBOOK_NOTIFY_MIN_AMOUNT")
	setDuration(&cfg.Notify.DedupTTL, "MATCHBOOK_NOTIFY_DEDUP_TTL")
	setDuration(&cfg.Notify.MaxEventAge, "MATCHBOOK_NOTIFY_MAX_EVENT_AGE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MATCHBOOK_MODE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
