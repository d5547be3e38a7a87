// Package config defines the top-level configuration for the matchbook
// settlement service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MATCHBOOK_* environment variables.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Settlement SettlementConfig `toml:"settlement"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Treasury   TreasuryConfig   `toml:"treasury"`
	Signer     SignerConfig     `toml:"signer"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// OpsToken gates operator endpoints such as the archive trigger. Empty
	// disables the check.
	OpsToken string `toml:"ops_token"`
	// RateLimit is the per-client request budget per RateWindow; 0 disables
	// rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// IdentitySkew bounds the clock drift accepted on signed identity
	// headers.
	IdentitySkew duration `toml:"identity_skew"`
}

// SettlementConfig holds the settlement engine parameters.
type SettlementConfig struct {
	// FeeBps is the protocol fee on escrow resolution in basis points.
	FeeBps uint64 `toml:"fee_bps"`
	// Backend selects the record store: "memory" or "postgres".
	Backend string `toml:"backend"`
	// DistributedLocks serializes settlement per match via Redis in addition
	// to the in-process keyed mutex. Required when more than one instance
	// settles against the same store.
	DistributedLocks bool     `toml:"distributed_locks"`
	LockTTL          duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// TreasuryConfig selects the fund custody backend.
type TreasuryConfig struct {
	// Backend is "memory" for the in-process vault or "gateway" for the
	// HMAC-authenticated treasury gateway.
	Backend       string `toml:"backend"`
	GatewayURL    string `toml:"gateway_url"`
	GatewayKey    string `toml:"gateway_key"`
	GatewaySecret string `toml:"gateway_secret"`
}

// SignerConfig holds the settlement receipt signing key.
type SignerConfig struct {
	Enabled          bool   `toml:"enabled"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ChainID          int    `toml:"chain_id"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinAmount         uint64   `toml:"min_amount"`
	DedupTTL          duration `toml:"dedup_ttl"`
	MaxEventAge       duration `toml:"max_event_age"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    20,
			RateWindow:   duration{time.Second},
			IdentitySkew: duration{5 * time.Minute},
		},
		Settlement: SettlementConfig{
			FeeBps:           500,
			Backend:          "memory",
			DistributedLocks: false,
			LockTTL:          duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "matchbook",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "matchbook-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Treasury: TreasuryConfig{
			Backend: "memory",
		},
		Signer: SignerConfig{
			Enabled: false,
			ChainID: 137,
		},
		Notify: NotifyConfig{
			Events:      []string{"escrow.resolved", "market.resolved", "market.claimed"},
			DedupTTL:    duration{2 * time.Minute},
			MaxEventAge: duration{5 * time.Minute},
		},
		Mode: "serve",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for LogConfig.Format.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// NeedsPostgres reports whether the configuration requires a PostgreSQL
// connection, i.e. the settlement records live there rather than in memory.
func (c *Config) NeedsPostgres() bool {
	return strings.ToLower(c.Settlement.Backend) == "postgres"
}

// NeedsS3 reports whether the configuration requires object storage.
func (c *Config) NeedsS3() bool {
	return c.Archive.Enabled || strings.ToLower(c.Mode) == "archive"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive)", c.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Settlement
	if c.Settlement.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("settlement: fee_bps must be 0-10000, got %d", c.Settlement.FeeBps))
	}
	backend := strings.ToLower(c.Settlement.Backend)
	if backend != "memory" && backend != "postgres" {
		errs = append(errs, fmt.Sprintf("settlement: unknown backend %q (valid: memory, postgres)", c.Settlement.Backend))
	}
	if strings.ToLower(c.Mode) == "archive" && backend != "postgres" {
		errs = append(errs, "archive mode requires settlement.backend = \"postgres\" (a fresh memory store has nothing to archive)")
	}
	if c.Settlement.DistributedLocks && c.Settlement.LockTTL.Duration <= 0 {
		errs = append(errs, "settlement: lock_ttl must be > 0 when distributed_locks is enabled")
	}

	// Postgres checks apply only when the settlement store runs on it.
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 checks apply only when the archiver runs.
	if c.NeedsS3() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Treasury
	switch strings.ToLower(c.Treasury.Backend) {
	case "memory":
	case "gateway":
		if c.Treasury.GatewayURL == "" {
			errs = append(errs, "treasury: gateway_url is required for the gateway backend")
		}
		gk := c.Treasury.GatewayKey != ""
		gs := c.Treasury.GatewaySecret != ""
		if gk != gs {
			errs = append(errs, "treasury: gateway_key and gateway_secret must be set together")
		}
	default:
		errs = append(errs, fmt.Sprintf("treasury: unknown backend %q (valid: memory, gateway)", c.Treasury.Backend))
	}

	// An enabled signer needs at least one key source.
	if c.Signer.Enabled {
		if c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
			errs = append(errs, "signer: either private_key or encrypted_key_path must be set when enabled")
		}
		if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
			errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
		}
		if c.Signer.ChainID <= 0 {
			errs = append(errs, "signer: chain_id must be positive")
		}
	}

	// Telegram credentials must be set together.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
