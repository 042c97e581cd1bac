package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSyncConfig(t *testing.T) {
	cfg := DefaultSyncConfig()

	assert.Equal(t, 730, cfg.LookbackDays)
	assert.Equal(t, 10, cfg.ChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Minute, cfg.IdleDwell)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxMessageAttempts)
	assert.Equal(t, 730*24*time.Hour, cfg.Lookback())
}

func TestSyncConfig_LookbackDisabled(t *testing.T) {
	cfg := &SyncConfig{LookbackDays: 0}

	assert.Equal(t, time.Duration(0), cfg.Lookback())
}

func TestInitConfig_FromEnvironment(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("MAILPULSE_POSTGRES_HOST", "localhost")
	t.Setenv("MAILPULSE_POSTGRES_PORT", "5432")
	t.Setenv("MAILPULSE_POSTGRES_USER", "postgres")
	t.Setenv("MAILPULSE_POSTGRES_DB_NAME", "mailpulse")
	t.Setenv("MAILPULSE_POSTGRES_PASSWORD", "postgres")
	t.Setenv("SYNC_LOOKBACK_DAYS", "30")
	t.Setenv("ENRICHMENT_PROVIDER", "http")

	cfg, err := InitConfig()

	assert.NoError(t, err)
	assert.Equal(t, "secret", cfg.AppConfig.APIKey)
	assert.Equal(t, 30, cfg.SyncConfig.LookbackDays)
	assert.Equal(t, "http", cfg.EnrichmentConfig.Provider)
	assert.Equal(t, "localhost", cfg.DatabaseConfig.Host)
}
