package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

func newTestRange(t *testing.T) *rangeMode {
	t.Helper()
	r, err := newRange(map[string]float64{
		"bb_period":     4,
		"bb_stddev":     2.0,
		"max_width_pct": 20,
		"rsi_period":    3,
		"rsi_floor":     35,
		"rsi_ceiling":   65,
	}, &mockLogger{})
	require.NoError(t, err)
	return r
}

func TestRangeLongAtLowerBand(t *testing.T) {
	r := newTestRange(t)

	// Lower band at 8.68 (mean 9.45, stddev 0.384); RSI 0 from straight
	// losses confirms the stretch.
	klines := buffer([]float64{10, 9.6, 9.2, 9.0}, 8.6)

	action, err := r.Decide(context.Background(), ports.DecisionContext{
		Symbol: "ETHUSDT",
		Price:  8.6,
		Klines: klines,
	})
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, domain.ActionOpenLong, action.Type)
	assert.Equal(t, "range_low", action.Reason)
}

func TestRangeShortAtUpperBand(t *testing.T) {
	r := newTestRange(t)

	// Upper band at 10.32; RSI 100 from straight gains.
	klines := buffer([]float64{9.0, 9.4, 9.8, 10.0}, 10.4)

	action, err := r.Decide(context.Background(), ports.DecisionContext{
		Symbol: "ETHUSDT",
		Price:  10.4,
		Klines: klines,
	})
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, domain.ActionOpenShort, action.Type)
	assert.Equal(t, "range_high", action.Reason)
}

func TestRangeTrendingMarketVetoed(t *testing.T) {
	r := newTestRange(t)

	// Strong trend blows the band width out to ~69%, far past the 20% cap,
	// so even a price beyond the upper band stays flat.
	klines := buffer([]float64{10, 12, 14, 16}, 18)

	action, err := r.Decide(context.Background(), ports.DecisionContext{
		Symbol: "ETHUSDT",
		Price:  18,
		Klines: klines,
	})
	require.NoError(t, err)
	assert.Nil(t, action)
}

func TestRangeRSIVetoesBandTouch(t *testing.T) {
	r := newTestRange(t)

	// Price pierces the lower band (8.65) but RSI sits at 60, well above
	// the 35 floor, so no entry.
	klines := buffer([]float64{9.0, 10, 9.2, 9.4}, 8.6)

	action, err := r.Decide(context.Background(), ports.DecisionContext{
		Symbol: "ETHUSDT",
		Price:  8.6,
		Klines: klines,
	})
	require.NoError(t, err)
	assert.Nil(t, action)
}

func TestRangeRejectsBadParams(t *testing.T) {
	_, err := newRange(map[string]float64{"rsi_floor": 80, "rsi_ceiling": 20}, &mockLogger{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
