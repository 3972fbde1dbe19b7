package indicators

import (
	"context"
	"fmt"
	"math"

	"cryptoMultiBot/internal/domain"
)

// BollingerConfig holds configuration for the Bollinger Bands indicator.
type BollingerConfig struct {
	IndicatorConfig
	StdDevMultiplier float64 // Band distance in standard deviations (typically 2.0)
}

// Bollinger implements Bollinger Bands: an SMA middle band with upper and
// lower bands a configured number of standard deviations away.
type Bollinger struct {
	BaseIndicator
	config BollingerConfig
}

// NewBollinger creates a new Bollinger Bands indicator instance.
func NewBollinger(config BollingerConfig) *Bollinger {
	if config.StdDevMultiplier <= 0 {
		config.StdDevMultiplier = 2.0
	}
	return &Bollinger{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator.
func (b *Bollinger) Name() string {
	return "BOLLINGER"
}

// Calculate computes the middle band (SMA), satisfying the Indicator interface.
func (b *Bollinger) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	_, middle, _, err := b.Bands(ctx, klines)
	return middle, err
}

// Bands computes the upper, middle and lower bands over the trailing period.
func (b *Bollinger) Bands(ctx context.Context, klines []*domain.Kline) (upper, middle, lower float64, err error) {
	period := b.Config.Period
	if len(klines) < period {
		return 0, 0, 0, fmt.Errorf("not enough data (%d) to calculate Bollinger Bands for period %d", len(klines), period)
	}

	window := klines[len(klines)-period:]

	sum := 0.0
	for _, k := range window {
		sum += k.Close
	}
	middle = sum / float64(period)

	variance := 0.0
	for _, k := range window {
		d := k.Close - middle
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(period))

	upper = middle + b.config.StdDevMultiplier*stdDev
	lower = middle - b.config.StdDevMultiplier*stdDev
	return upper, middle, lower, nil
}

// Width returns the band width as a fraction of the middle band, a measure
// of how tightly the market is ranging.
func (b *Bollinger) Width(ctx context.Context, klines []*domain.Kline) (float64, error) {
	upper, middle, lower, err := b.Bands(ctx, klines)
	if err != nil {
		return 0, err
	}
	if middle == 0 {
		return 0, nil
	}
	return (upper - lower) / middle, nil
}
