package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, uint64(500), cfg.Settlement.FeeBps)
	assert.Equal(t, "memory", cfg.Settlement.Backend)
	assert.Equal(t, "memory", cfg.Treasury.Backend)
	assert.False(t, cfg.NeedsPostgres())
	assert.False(t, cfg.NeedsS3())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Settlement.FeeBps = 10_001
	cfg.Settlement.Backend = "sqlite"
	cfg.Redis.Addr = ""
	cfg.Treasury.Backend = "gateway" // url missing
	cfg.Notify.TelegramToken = "tok" // chat id missing

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "replay"`)
	assert.Contains(t, msg, "fee_bps must be 0-10000")
	assert.Contains(t, msg, `unknown backend "sqlite"`)
	assert.Contains(t, msg, "redis: addr must not be empty")
	assert.Contains(t, msg, "gateway_url is required")
	assert.Contains(t, msg, "telegram_token and telegram_chat_id")
}

func TestValidateArchiveMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"

	err := cfg.Validate()
	require.Error(t, err, "archive mode over the memory backend has nothing to sweep")
	assert.Contains(t, err.Error(), `settlement.backend = "postgres"`)

	cfg.Settlement.Backend = "postgres"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.NeedsS3(), "archive mode always needs object storage")
}

func TestValidateConditionalSections(t *testing.T) {
	cfg := Defaults()
	cfg.Settlement.Backend = "postgres"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")
	assert.Contains(t, err.Error(), "postgres: database must not be empty")

	// A DSN stands in for the discrete connection fields.
	cfg.Postgres.DSN = "postgres://settle:pw@db:5432/matchbook"
	require.NoError(t, cfg.Validate())

	// The same fields are ignored entirely on the memory backend.
	cfg = Defaults()
	cfg.Postgres.Host = ""
	require.NoError(t, cfg.Validate())
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "serve"

[server]
port = 9100
rate_window = "250ms"

[settlement]
fee_bps = 250

[notify]
events = ["escrow.resolved"]
min_amount = 5000
`), 0o600))

	t.Setenv("MATCHBOOK_SERVER_PORT", "9200")
	t.Setenv("MATCHBOOK_SETTLEMENT_DISTRIBUTED_LOCKS", "true")
	t.Setenv("MATCHBOOK_NOTIFY_EVENTS", "market.resolved, market.claimed")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment beats file beats defaults.
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, uint64(250), cfg.Settlement.FeeBps)
	assert.True(t, cfg.Settlement.DistributedLocks)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.RateWindow.Duration)
	assert.Equal(t, uint64(5000), cfg.Notify.MinAmount)
	assert.Equal(t, []string{"market.resolved", "market.claimed"}, cfg.Notify.Events)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "0 3 1 * *", cfg.Archive.Cron)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Postgres.DSN = "postgres://settle:hunter2@db/matchbook"
	cfg.Treasury.GatewaySecret = "s3cret"
	cfg.Signer.PrivateKey = "deadbeef"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Postgres.DSN)
	assert.Equal(t, "***", red.Treasury.GatewaySecret)
	assert.Equal(t, "***", red.Signer.PrivateKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Empty(t, red.Redis.Password, "empty secrets stay empty")

	// The original is untouched and the copy's slices are independent.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
