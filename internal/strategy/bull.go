package strategy

import (
	"context"
	"fmt"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/strategy/indicators"
)

// Bull mode buys pullbacks in an uptrend on 15-minute candles: the moving
// average must be rising over the trend lookback, and the price must sit at
// least deviation_pct below it. The average is an SMA by default; use_ema=1
// swaps in an EMA of the same period.
type bull struct {
	maPeriod      int
	deviationPct  float64
	trendLookback int
	ma            *indicators.MovingAverage
	reason        string
	logger        ports.Logger
}

func newBull(params map[string]float64, logger ports.Logger) (*bull, error) {
	b := &bull{
		maPeriod:      int(param(params, "sma_period", 20)),
		deviationPct:  param(params, "deviation_pct", 1.5),
		trendLookback: int(param(params, "trend_lookback", 3)),
		logger:        logger.With(map[string]interface{}{"mode": "bull"}),
	}
	if b.maPeriod <= 1 {
		return nil, fmt.Errorf("%w: bull sma_period must be greater than 1", ports.ErrConfigurationError)
	}
	if b.deviationPct <= 0 {
		return nil, fmt.Errorf("%w: bull deviation_pct must be positive", ports.ErrConfigurationError)
	}
	if b.trendLookback <= 0 {
		return nil, fmt.Errorf("%w: bull trend_lookback must be positive", ports.ErrConfigurationError)
	}
	maType, reason := indicators.SimpleMovingAverage, "sma_pullback"
	if param(params, "use_ema", 0) != 0 {
		maType, reason = indicators.ExponentialMovingAverage, "ema_pullback"
	}
	b.reason = reason
	b.ma = indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: b.maPeriod},
		Type:            maType,
	})
	return b, nil
}

func (b *bull) Name() string { return string(domain.ModeBull) }

func (b *bull) KlineInterval() string { return "15m" }

func (b *bull) RequiredDataPoints() int { return b.maPeriod + b.trendLookback + 1 }

// Decide enters long when a rising moving average sits deviation_pct or more
// above the current price.
func (b *bull) Decide(ctx context.Context, dctx ports.DecisionContext) (*domain.Action, error) {
	closed := closedKlines(dctx.Klines)
	if len(closed) < b.maPeriod+b.trendLookback {
		return nil, fmt.Errorf("%w: need %d closed klines, have %d", ports.ErrDataUnavailable, b.maPeriod+b.trendLookback, len(closed))
	}

	maNow, err := b.ma.Calculate(ctx, closed)
	if err != nil {
		return nil, err
	}
	maPast, err := b.ma.Calculate(ctx, closed[:len(closed)-b.trendLookback])
	if err != nil {
		return nil, err
	}

	if maNow <= maPast {
		b.logger.Debug(ctx, "No bull entry: trend average not rising", map[string]interface{}{
			"symbol": dctx.Symbol, "indicator": b.ma.Name(), "ma_now": maNow, "ma_past": maPast,
		})
		return nil, nil
	}

	deviation := pctChange(maNow, dctx.Price)
	if deviation > -b.deviationPct {
		b.logger.Debug(ctx, "No bull entry: price not far enough below average", map[string]interface{}{
			"symbol": dctx.Symbol, "price": dctx.Price, "ma": maNow, "deviation_pct": deviation,
		})
		return nil, nil
	}

	b.logger.Info(ctx, "Bull entry triggered", map[string]interface{}{
		"symbol": dctx.Symbol, "price": dctx.Price, "indicator": b.ma.Name(), "ma": maNow, "deviation_pct": deviation,
	})
	return &domain.Action{
		Type:   domain.ActionOpenLong,
		Price:  dctx.Price,
		Reason: b.reason,
	}, nil
}
