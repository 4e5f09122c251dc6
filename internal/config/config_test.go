package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: ["BTCUSDT"]
  mode: "paper"
  base_order_size: 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols)
	assert.InDelta(t, 500.0, cfg.Trading.BaseOrderSize, 1e-9)
	assert.True(t, cfg.Trading.Paper())

	// Значения по умолчанию
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 14, cfg.Signal.RSIPeriod)
	assert.Equal(t, 30, cfg.Scanner.IntervalSeconds)
	assert.Equal(t, 3, cfg.Scanner.TopK)
	assert.InDelta(t, 0.15, cfg.Risk.MaxPortfolioRisk, 1e-9)
	assert.Equal(t, 5, cfg.Risk.StalenessSeconds)
	assert.Equal(t, 3, cfg.Trading.MaxConcurrentPositions)
	assert.Equal(t, 8, cfg.Trading.MaxHoldHours)
}

func TestLoadExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: "live"
  max_concurrent_positions: 5
scanner:
  interval_seconds: 15
  top_k: 1
risk:
  max_portfolio_risk: 0.10
log_level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Trading.Paper())
	assert.Equal(t, 5, cfg.Trading.MaxConcurrentPositions)
	assert.Equal(t, 15, cfg.Scanner.IntervalSeconds)
	assert.Equal(t, 1, cfg.Scanner.TopK)
	assert.InDelta(t, 0.10, cfg.Risk.MaxPortfolioRisk, 1e-9)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "trading: [broken")
	_, err := Load(path)
	assert.Error(t, err)
}
