package domain

import "time"

// Position represents an open exposure on a single symbol. The engine tracks
// at most one position per symbol; a second entry for the same symbol is
// rejected upstream rather than merged.
type Position struct {
	ID            int64     // Database identifier (0 until persisted)
	Symbol        string    // Trading symbol (e.g., "ETHUSDT")
	Side          Side      // Direction of the exposure (long or short)
	EntryPrice    float64   // Average fill price of the entry order
	Size          float64   // Position size in base asset units
	Leverage      int       // Leverage applied to the position
	StopLoss      float64   // Price level of the protective stop order
	TakeProfit    float64   // Price level of the take-profit order
	OpenedAt      time.Time // Timestamp when the entry order filled
	UnrealizedPnL float64   // Mark-to-market PnL, refreshed by the reconciler
	EntryFee      float64   // Taker fees carried on the position (entry plus partial exits), settled into realized PnL on close

	// Exchange order IDs of the protective legs (nil when the leg failed to
	// place and has not been re-established by an adjust).
	StopLossOrderID   *int64
	TakeProfitOrderID *int64

	// Drift marks a position adopted or resized from exchange-reported state
	// rather than created by a local entry order.
	Drift bool
}

// Notional returns the position value at the given price.
func (p *Position) Notional(price float64) float64 {
	return p.Size * price
}

// Protected reports whether both protective legs are resting on the exchange.
func (p *Position) Protected() bool {
	return p.StopLossOrderID != nil && p.TakeProfitOrderID != nil
}

// HitStopLoss reports whether the given price crosses the stop-loss level.
func (p *Position) HitStopLoss(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == SideShort {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// HitTakeProfit reports whether the given price crosses the take-profit level.
func (p *Position) HitTakeProfit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == SideShort {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}
