package strategy

import (
	"context"
	"fmt"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/strategy/indicators"
)

// Range mode trades mean reversion inside a sideways market on 15-minute
// candles: long at the lower Bollinger band, short at the upper band. The
// band-width filter keeps it flat in trending markets, and RSI confirms the
// touch is actually stretched.
type rangeMode struct {
	bbPeriod    int
	bbStdDev    float64
	maxWidthPct float64
	rsiPeriod   int
	rsiFloor    float64
	rsiCeiling  float64
	bollinger   *indicators.Bollinger
	rsi         *indicators.RSI
	logger      ports.Logger
}

func newRange(params map[string]float64, logger ports.Logger) (*rangeMode, error) {
	r := &rangeMode{
		bbPeriod:    int(param(params, "bb_period", 20)),
		bbStdDev:    param(params, "bb_stddev", 2.0),
		maxWidthPct: param(params, "max_width_pct", 4.0),
		rsiPeriod:   int(param(params, "rsi_period", 14)),
		rsiFloor:    param(params, "rsi_floor", 35),
		rsiCeiling:  param(params, "rsi_ceiling", 65),
		logger:      logger.With(map[string]interface{}{"mode": "range"}),
	}
	if r.bbPeriod <= 1 || r.bbStdDev <= 0 {
		return nil, fmt.Errorf("%w: range Bollinger parameters out of range", ports.ErrConfigurationError)
	}
	if r.maxWidthPct <= 0 {
		return nil, fmt.Errorf("%w: range max_width_pct must be positive", ports.ErrConfigurationError)
	}
	if r.rsiPeriod <= 1 || r.rsiFloor >= r.rsiCeiling || r.rsiFloor < 0 || r.rsiCeiling > 100 {
		return nil, fmt.Errorf("%w: range RSI parameters out of range", ports.ErrConfigurationError)
	}
	r.bollinger = indicators.NewBollinger(indicators.BollingerConfig{
		IndicatorConfig:  indicators.IndicatorConfig{Period: r.bbPeriod},
		StdDevMultiplier: r.bbStdDev,
	})
	r.rsi = indicators.NewRSI(indicators.IndicatorConfig{Period: r.rsiPeriod})
	return r, nil
}

func (r *rangeMode) Name() string { return string(domain.ModeRange) }

func (r *rangeMode) KlineInterval() string { return "15m" }

func (r *rangeMode) RequiredDataPoints() int {
	n := r.bbPeriod + 1
	if r.rsiPeriod+2 > n {
		n = r.rsiPeriod + 2
	}
	return n
}

// Decide opens against the touched band when the market is ranging and RSI
// confirms the stretch.
func (r *rangeMode) Decide(ctx context.Context, dctx ports.DecisionContext) (*domain.Action, error) {
	closed := closedKlines(dctx.Klines)
	if len(closed) < r.bbPeriod {
		return nil, fmt.Errorf("%w: need %d closed klines, have %d", ports.ErrDataUnavailable, r.bbPeriod, len(closed))
	}

	upper, middle, lower, err := r.bollinger.Bands(ctx, closed)
	if err != nil {
		return nil, err
	}
	if middle == 0 {
		return nil, nil
	}

	widthPct := (upper - lower) / middle * 100
	if widthPct > r.maxWidthPct {
		r.logger.Debug(ctx, "No range entry: market trending", map[string]interface{}{
			"symbol": dctx.Symbol, "band_width_pct": widthPct, "max_width_pct": r.maxWidthPct,
		})
		return nil, nil
	}

	rsiValue, err := r.rsi.Calculate(ctx, closed)
	if err != nil {
		return nil, err
	}

	switch {
	case dctx.Price <= lower && rsiValue <= r.rsiFloor:
		r.logger.Info(ctx, "Range long triggered", map[string]interface{}{
			"symbol": dctx.Symbol, "price": dctx.Price, "lower_band": lower, "rsi": rsiValue,
		})
		return &domain.Action{Type: domain.ActionOpenLong, Price: dctx.Price, Reason: "range_low"}, nil
	case dctx.Price >= upper && rsiValue >= r.rsiCeiling:
		r.logger.Info(ctx, "Range short triggered", map[string]interface{}{
			"symbol": dctx.Symbol, "price": dctx.Price, "upper_band": upper, "rsi": rsiValue,
		})
		return &domain.Action{Type: domain.ActionOpenShort, Price: dctx.Price, Reason: "range_high"}, nil
	}

	return nil, nil
}
