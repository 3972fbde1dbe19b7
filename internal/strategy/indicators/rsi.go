package indicators

import (
	"context"
	"fmt"

	"cryptoMultiBot/internal/domain"
)

// RSI implements the Relative Strength Index indicator. Threshold
// interpretation (overbought/oversold) is left to the caller; the indicator
// only reports the value.
type RSI struct {
	BaseIndicator
}

// NewRSI creates a new RSI indicator instance.
func NewRSI(config IndicatorConfig) *RSI {
	return &RSI{
		BaseIndicator: BaseIndicator{Config: config},
	}
}

// Name returns the name of the indicator.
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints returns the minimum number of klines needed: one more
// than the period, since RSI works on price changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes the RSI value using Wilder's smoothing method.
func (r *RSI) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if len(klines) <= r.Config.Period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(klines), r.Config.Period)
	}

	changes := make([]float64, 0, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		changes = append(changes, klines[i].Close-klines[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < r.Config.Period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(r.Config.Period)
	avgLoss /= float64(r.Config.Period)

	// Wilder smoothing over the remaining changes
	for i := r.Config.Period; i < len(changes); i++ {
		gain, loss := 0.0, 0.0
		if changes[i] > 0 {
			gain = changes[i]
		} else {
			loss = -changes[i]
		}
		avgGain = (avgGain*float64(r.Config.Period-1) + gain) / float64(r.Config.Period)
		avgLoss = (avgLoss*float64(r.Config.Period-1) + loss) / float64(r.Config.Period)
	}

	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}
