package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMultiBot/internal/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	// Blank out anything the host environment might carry; empty values fall
	// back to the built-in defaults.
	for _, key := range []string{
		"IS_TESTNET", "HEDGE_MODE", "BALANCE_ASSET",
		"TICK_INTERVAL_SECONDS", "CALL_TIMEOUT_SECONDS", "RECONCILE_INTERVAL_SECONDS",
		"LEVERAGE", "TAKER_FEE_RATE", "DB_PATH", "REDIS_ADDR", "STRATEGIES", "TRACING_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet, "testnet is the default")
	assert.False(t, cfg.HedgeMode)
	assert.Equal(t, "USDT", cfg.BalanceAsset)
	assert.Equal(t, 15*time.Second, cfg.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 4, cfg.Leverage)
	assert.Equal(t, 0.0005, cfg.TakerFeeRate)
	assert.Equal(t, "./data/trading_bot.db", cfg.DBPath)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.Strategies)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadConfigRequiresAPIKeys(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LEVERAGE", "not-a-number")
	t.Setenv("TAKER_FEE_RATE", "0.5")
	t.Setenv("STRATEGIES", "ETHUSDT:sideways")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEVERAGE")
	assert.Contains(t, err.Error(), "TAKER_FEE_RATE")
	assert.Contains(t, err.Error(), "STRATEGIES")
}

func TestLoadConfigParsesStrategyList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRATEGIES", "ethusdt:BULL, BTCUSDT:scalp")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, StrategySpec{Symbol: "ETHUSDT", Mode: domain.ModeBull}, cfg.Strategies[0])
	assert.Equal(t, StrategySpec{Symbol: "BTCUSDT", Mode: domain.ModeScalp}, cfg.Strategies[1])
}

func TestParseStrategies(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []StrategySpec
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "blank entries skipped", raw: " , ,", want: nil},
		{
			name: "single",
			raw:  "ETHUSDT:bear",
			want: []StrategySpec{{Symbol: "ETHUSDT", Mode: domain.ModeBear}},
		},
		{
			name: "normalizes case and spacing",
			raw:  " solusdt : Range ",
			want: []StrategySpec{{Symbol: "SOLUSDT", Mode: domain.ModeRange}},
		},
		{name: "missing mode", raw: "ETHUSDT", wantErr: true},
		{name: "unknown mode", raw: "ETHUSDT:hodl", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStrategies(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
