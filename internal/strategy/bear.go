package strategy

import (
	"context"
	"fmt"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

// Bear mode buys heavy sell-offs on 15-minute candles. Two entry branches:
// a sustained drop across the 15/30/60-minute windows, or an extreme
// single-hour drop with slightly relaxed shorter-window thresholds. All
// thresholds are negative percentages and tunable per strategy; the defaults
// are heuristics carried from live tuning, not statistically validated.
type bear struct {
	pct15Threshold        float64
	pct30Threshold        float64
	pct60Threshold        float64
	pct30RelaxedThreshold float64
	maxDropThreshold      float64
	logger                ports.Logger
}

func newBear(params map[string]float64, logger ports.Logger) (*bear, error) {
	b := &bear{
		pct15Threshold:        param(params, "pct15_threshold", -5.0),
		pct30Threshold:        param(params, "pct30_threshold", -10.0),
		pct60Threshold:        param(params, "pct60_threshold", -12.0),
		pct30RelaxedThreshold: param(params, "pct30_relaxed_threshold", -8.0),
		maxDropThreshold:      param(params, "max_drop_threshold", -12.0),
		logger:                logger.With(map[string]interface{}{"mode": "bear"}),
	}
	if b.pct15Threshold >= 0 || b.pct30Threshold >= 0 || b.pct60Threshold >= 0 ||
		b.pct30RelaxedThreshold >= 0 || b.maxDropThreshold >= 0 {
		return nil, fmt.Errorf("%w: bear thresholds must be negative percentages", ports.ErrConfigurationError)
	}
	return b, nil
}

func (b *bear) Name() string { return string(domain.ModeBear) }

func (b *bear) KlineInterval() string { return "15m" }

// RequiredDataPoints covers the four preceding 15-minute closes plus the
// in-progress candle.
func (b *bear) RequiredDataPoints() int { return 5 }

// Decide enters long when the multi-timeframe drop conditions are met.
// pctN compares the close N minutes ago against the current price; maxDrop60
// is the most negative change from any of the four preceding closes to the
// current price.
func (b *bear) Decide(ctx context.Context, dctx ports.DecisionContext) (*domain.Action, error) {
	closed := closedKlines(dctx.Klines)
	if len(closed) < 4 {
		return nil, fmt.Errorf("%w: need 4 closed klines, have %d", ports.ErrDataUnavailable, len(closed))
	}

	price := dctx.Price
	n := len(closed)
	close15 := closed[n-1].Close
	close30 := closed[n-2].Close
	close60 := closed[n-4].Close

	pct15 := pctChange(close15, price)
	pct30 := pctChange(close30, price)
	pct60 := pctChange(close60, price)

	maxDrop60 := pct15
	for i := n - 4; i < n; i++ {
		if chg := pctChange(closed[i].Close, price); chg < maxDrop60 {
			maxDrop60 = chg
		}
	}

	sustained := pct15 <= b.pct15Threshold && pct30 <= b.pct30Threshold && pct60 <= b.pct60Threshold
	extreme := maxDrop60 <= b.maxDropThreshold && pct15 <= b.pct15Threshold && pct30 <= b.pct30RelaxedThreshold

	if !sustained && !extreme {
		b.logger.Debug(ctx, "No bear entry", map[string]interface{}{
			"symbol": dctx.Symbol, "pct15": pct15, "pct30": pct30, "pct60": pct60, "max_drop_60m": maxDrop60,
		})
		return nil, nil
	}

	reason := "sustained_drop"
	if !sustained {
		reason = "extreme_volatility"
	}

	b.logger.Info(ctx, "Bear entry triggered", map[string]interface{}{
		"symbol": dctx.Symbol, "price": price, "reason": reason,
		"pct15": pct15, "pct30": pct30, "pct60": pct60, "max_drop_60m": maxDrop60,
	})
	return &domain.Action{
		Type:   domain.ActionOpenLong,
		Price:  price,
		Reason: reason,
	}, nil
}
