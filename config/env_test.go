package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "SCHEDULER_INTERVAL", "SCHEDULER_ENABLED", "TIMEZONE", "BONUS_WALLET_CATEGORY", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "incentive.db", cfg.DB.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, "bonus_wallet", cfg.Engine.BonusWalletCategory)
	assert.Len(t, cfg.Server.CORSOrigins, 2)
}

func TestLoad_DotEnvFile(t *testing.T) {
	for _, k := range []string{"PORT", "SCHEDULER_INTERVAL", "TIMEZONE", "CORS_ORIGINS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9090\nSCHEDULER_INTERVAL=15m\nTIMEZONE=Asia/Kuala_Lumpur\nCORS_ORIGINS=https://a.example, https://b.example\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kuala_Lumpur", loc.String())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv("SCHEDULER_INTERVAL", "1h")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
