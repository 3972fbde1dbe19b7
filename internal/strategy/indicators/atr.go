package indicators

import (
	"context"
	"fmt"
	"math"

	"cryptoMultiBot/internal/domain"
)

// ATR implements the Average True Range indicator.
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance.
func NewATR(config IndicatorConfig) *ATR {
	return &ATR{
		BaseIndicator: BaseIndicator{Config: config},
	}
}

// Name returns the name of the indicator.
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints returns the minimum number of klines needed: one more
// than the period, since true range needs the previous close.
func (a *ATR) RequiredDataPoints() int {
	return a.Config.Period + 1
}

// Calculate computes the Average True Range using Wilder's smoothing method.
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := a.Config.Period
	if len(klines) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(klines))
	}

	trueRanges := make([]float64, len(klines))
	trueRanges[0] = klines[0].High - klines[0].Low

	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		// True range is the greatest of high-low, |high-prevClose|, |low-prevClose|
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges[i] = tr
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}
