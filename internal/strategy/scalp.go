package strategy

import (
	"context"
	"fmt"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/strategy/indicators"
)

// Scalp mode fades sharp short-window moves on 1-minute candles: a quick drop
// opens a long, a quick spike opens a short. An optional ATR floor keeps it
// out of dead markets where the spread eats the edge.
type scalp struct {
	windowMinutes int
	dropPct       float64
	risePct       float64
	minATRPct     float64
	atrPeriod     int
	atr           *indicators.ATR
	logger        ports.Logger
}

func newScalp(params map[string]float64, logger ports.Logger) (*scalp, error) {
	s := &scalp{
		windowMinutes: int(param(params, "window_minutes", 5)),
		dropPct:       param(params, "drop_pct", 0.8),
		risePct:       param(params, "rise_pct", 0.8),
		minATRPct:     param(params, "min_atr_pct", 0),
		atrPeriod:     int(param(params, "atr_period", 14)),
		logger:        logger.With(map[string]interface{}{"mode": "scalp"}),
	}
	if s.windowMinutes <= 0 {
		return nil, fmt.Errorf("%w: scalp window_minutes must be positive", ports.ErrConfigurationError)
	}
	if s.dropPct <= 0 || s.risePct <= 0 {
		return nil, fmt.Errorf("%w: scalp drop_pct and rise_pct must be positive", ports.ErrConfigurationError)
	}
	if s.minATRPct < 0 || s.atrPeriod <= 0 {
		return nil, fmt.Errorf("%w: scalp ATR parameters out of range", ports.ErrConfigurationError)
	}
	s.atr = indicators.NewATR(indicators.IndicatorConfig{Period: s.atrPeriod})
	return s, nil
}

func (s *scalp) Name() string { return string(domain.ModeScalp) }

func (s *scalp) KlineInterval() string { return "1m" }

func (s *scalp) RequiredDataPoints() int {
	n := s.windowMinutes + 1
	if s.minATRPct > 0 && s.atrPeriod+2 > n {
		n = s.atrPeriod + 2
	}
	return n
}

// Decide fades the short-window move when it exceeds the configured
// thresholds and the market is volatile enough to scalp.
func (s *scalp) Decide(ctx context.Context, dctx ports.DecisionContext) (*domain.Action, error) {
	closed := closedKlines(dctx.Klines)
	if len(closed) < s.windowMinutes {
		return nil, fmt.Errorf("%w: need %d closed klines, have %d", ports.ErrDataUnavailable, s.windowMinutes, len(closed))
	}

	if s.minATRPct > 0 {
		atrValue, err := s.atr.Calculate(ctx, closed)
		if err != nil {
			return nil, err
		}
		atrPct := atrValue / dctx.Price * 100
		if atrPct < s.minATRPct {
			s.logger.Debug(ctx, "No scalp entry: volatility below floor", map[string]interface{}{
				"symbol": dctx.Symbol, "atr_pct": atrPct, "min_atr_pct": s.minATRPct,
			})
			return nil, nil
		}
	}

	windowOpen := closed[len(closed)-s.windowMinutes].Open
	move := pctChange(windowOpen, dctx.Price)

	switch {
	case move <= -s.dropPct:
		s.logger.Info(ctx, "Scalp long triggered", map[string]interface{}{
			"symbol": dctx.Symbol, "price": dctx.Price, "window_move_pct": move,
		})
		return &domain.Action{Type: domain.ActionOpenLong, Price: dctx.Price, Reason: "quick_drop"}, nil
	case move >= s.risePct:
		s.logger.Info(ctx, "Scalp short triggered", map[string]interface{}{
			"symbol": dctx.Symbol, "price": dctx.Price, "window_move_pct": move,
		})
		return &domain.Action{Type: domain.ActionOpenShort, Price: dctx.Price, Reason: "quick_spike"}, nil
	}

	return nil, nil
}
