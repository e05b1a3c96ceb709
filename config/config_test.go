package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = strings.Repeat("ab", 32)

func TestLoadRequiresSigner(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrMissingSigner)

	t.Setenv("BOT_VAULT_ENABLED", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Vault.Enabled)
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("BOT_SIGNER_SEED", testSeed)
	t.Setenv("BOT_RISK_MAX_DRAWDOWN", "12.5")
	t.Setenv("BOT_ORDERS_POLL_INTERVAL", "500ms")
	t.Setenv("BOT_TRADING_MAX_EXPOSURE_USD", "75")
	t.Setenv("BOT_FEED_ENABLED", "true")
	t.Setenv("BOT_FEED_URL", "ws://localhost:9000/ws")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 500*time.Millisecond, cfg.Orders.PollInterval)
	assert.Equal(t, 75.0, cfg.Trading.MaxExposureUSD)
	assert.Equal(t, "ws://localhost:9000/ws", cfg.Feed.URL)

	// untouched defaults survive the round trip through viper
	def := Default()
	assert.Equal(t, def.Risk.MaxPositions, cfg.Risk.MaxPositions)
	assert.Equal(t, def.Risk.VolWindow, cfg.Risk.VolWindow)
	assert.Equal(t, def.Orders.MaxPendingDuration, cfg.Orders.MaxPendingDuration)
	assert.Equal(t, def.Coordinator.DefaultCooldown, cfg.Coordinator.DefaultCooldown)
	assert.Equal(t, "breakout", cfg.Strategies.Breakout.Name)
	assert.Equal(t, def.Strategies.Breakout.Lookback, cfg.Strategies.Breakout.Lookback)
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, def.Redis.PendingTTL, cfg.Redis.PendingTTL)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("BOT_SIGNER_SEED", testSeed)
	t.Setenv("BOT_RISK_MAX_POSITIONS", "7")

	path := filepath.Join(t.TempDir(), "bot.yaml")
	yaml := `
risk:
  max_positions: 3
  max_daily_loss: 4
trading:
  session_id: paper-1
  initial_balance: 2500
strategies:
  breakout:
    lookback: 10
orders:
  max_pending_duration: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Risk.MaxPositions, "environment wins over the file")
	assert.Equal(t, 4.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, "paper-1", cfg.Trading.SessionID)
	assert.Equal(t, 2500.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 10, cfg.Strategies.Breakout.Lookback)
	assert.Equal(t, 90*time.Second, cfg.Orders.MaxPendingDuration)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Signer.Seed = testSeed
		return &cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad seed", func(c *Config) { c.Signer.Seed = "xyz" }},
		{"slippage", func(c *Config) { c.Risk.SlippageBps = 10000 }},
		{"balance", func(c *Config) { c.Trading.InitialBalance = 0 }},
		{"session", func(c *Config) { c.Trading.SessionID = "" }},
		{"risk", func(c *Config) { c.Risk.MaxPositions = 0 }},
		{"poll interval", func(c *Config) { c.Orders.PollInterval = 0 }},
		{"feed url", func(c *Config) { c.Feed.Enabled = true }},
		{"auth secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "short" }},
		{"severity", func(c *Config) { c.Notification.Enabled = true; c.Notification.MinSeverity = "loud" }},
		{"kafka brokers", func(c *Config) { c.Notification.Enabled = true; c.Notification.Kafka.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestReadSkipsValidation(t *testing.T) {
	cfg, err := Read("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Signer.Seed)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSigner)
}
