package ports

import (
	"context"

	"cryptoMultiBot/internal/domain"
)

// DecisionContext carries the market state handed to a decision function on
// each tick: the latest price and the candle history buffer. Deciders only
// run while the symbol is flat; ticks with an open position go straight to
// the protective checks.
type DecisionContext struct {
	Symbol string
	Price  float64
	Klines []*domain.Kline
}

// Decider is the pure, mode-specific decision function. It maps market state
// to an Action or nil, and must not perform I/O or mutate shared state; the
// runner owns all side effects.
type Decider interface {
	// Decide evaluates the market state and returns the intended action, or
	// nil when no action is warranted.
	Decide(ctx context.Context, dctx DecisionContext) (*domain.Action, error)
	// RequiredDataPoints returns the minimum number of klines the decider
	// needs before it can produce a meaningful decision.
	RequiredDataPoints() int
	// KlineInterval returns the candle interval the decider evaluates
	// (e.g., "1m", "15m"), which the runner fetches each tick.
	KlineInterval() string
	// Name returns the mode name of the decider.
	Name() string
}
