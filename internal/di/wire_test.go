package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Server:  config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Ingest: config.IngestConfig{
			DedupTTL:     time.Minute,
			MaxBodyBytes: 64 * 1024,
		},
		Queues: config.QueueConfig{
			Capacity:        16,
			EnqueueTimeout:  time.Second,
			MatchWorkers:    2,
			DispatchWorkers: 2,
		},
		Scheduler: config.SchedulerConfig{
			Tick:        time.Second,
			Workers:     2,
			MaxBatch:    10,
			BackoffBase: time.Second,
			BackoffMax:  time.Minute,
			LeaseTTL:    10 * time.Second,
		},
		Dispatch: config.DispatchConfig{
			RetryBase:   time.Millisecond,
			RetryMax:    10 * time.Millisecond,
			MaxAttempts: 2,
		},
		MarketData: config.MarketDataConfig{
			BaseURL:      "http://localhost:9100",
			Timeout:      time.Second,
			QuoteTTL:     time.Second,
			IndicatorTTL: time.Minute,
			HistoryLimit: 50,
		},
		Notify: config.NotifyConfig{Mode: "log"},
	}
}

func TestWireBuildsFullContainer(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	c, err := Wire(cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	defer c.CloseDatabases()

	for _, db := range c.Databases() {
		require.NotNil(t, db)
		assert.NoError(t, db.QuickCheck(context.Background()))
	}

	assert.NotNil(t, c.Intake)
	assert.NotNil(t, c.Processor)
	assert.NotNil(t, c.MatchPool)
	assert.NotNil(t, c.NotifyPool)
	assert.NotNil(t, c.TradeManager)
	assert.NotNil(t, c.AlertScheduler)
	assert.NotNil(t, c.DispatchListener)
	assert.NotNil(t, c.MetricsListener)
	assert.NotNil(t, c.Maintenance)
	assert.NotNil(t, c.Server)
	assert.Nil(t, c.Backup, "backups are disabled by default")

	// A fresh ledger starts the counter at zero.
	value, err := c.TradeCounter.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)

	// The wired router serves health without any pipeline running.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c.Server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWireWithBackupEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup = config.BackupConfig{
		Enabled:   true,
		Endpoint:  "http://localhost:9000",
		Region:    "auto",
		Bucket:    "herald-test",
		AccessKey: "test",
		SecretKey: "test",
		Prefix:    "herald-backups",
		Schedule:  "0 3 * * *",
		Keep:      3,
	}
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	c, err := Wire(cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	defer c.CloseDatabases()

	assert.NotNil(t, c.Backup)
}

func TestWireAppliesSettingsOverrides(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// First boot writes a secret into the registry settings.
	c, err := Wire(cfg, clk, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Settings.Set("webhook_secret", "from-settings", nil))
	c.CloseDatabases()

	cfg2 := testConfig(t)
	cfg2.DataDir = cfg.DataDir
	c2, err := Wire(cfg2, clk, zerolog.Nop())
	require.NoError(t, err)
	defer c2.CloseDatabases()

	assert.Equal(t, "from-settings", cfg2.Ingest.WebhookSecret)
}
