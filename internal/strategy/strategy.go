// Package strategy contains the pure, mode-specific decision functions. Each
// mode maps market state to an Action or nil; all side effects (orders,
// position state, persistence) belong to the runner and executor.
package strategy

import (
	"fmt"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

// Config holds the inputs for constructing a decider.
type Config struct {
	Mode   domain.Mode
	Params map[string]float64 // Mode-specific tunables; missing keys fall back to mode defaults
}

// New creates the decider for the given mode. The mode is selected once at
// runner construction; the tick loop never branches on it again.
func New(cfg Config, logger ports.Logger) (ports.Decider, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown strategy mode %q", ports.ErrConfigurationError, cfg.Mode)
	}

	switch cfg.Mode {
	case domain.ModeBear:
		return newBear(cfg.Params, logger)
	case domain.ModeBull:
		return newBull(cfg.Params, logger)
	case domain.ModeScalp:
		return newScalp(cfg.Params, logger)
	case domain.ModeRange:
		return newRange(cfg.Params, logger)
	}
	return nil, fmt.Errorf("%w: unknown strategy mode %q", ports.ErrConfigurationError, cfg.Mode)
}

// param returns the named parameter or its default when unset.
func param(params map[string]float64, name string, def float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return def
}

// pctChange returns the percentage change from a reference price to the
// current price.
func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// closedKlines returns the buffer without its last element, which is treated
// as the in-progress candle. The remaining closes are fully formed.
func closedKlines(klines []*domain.Kline) []*domain.Kline {
	if len(klines) == 0 {
		return nil
	}
	return klines[:len(klines)-1]
}
