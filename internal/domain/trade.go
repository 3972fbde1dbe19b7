package domain

import "time"

// Trade represents a completed round trip. Exactly one Trade is created when
// a Position closes; partial reductions shrink the position without producing
// a Trade.
type Trade struct {
	ID         int64       // Database identifier
	Symbol     string      // Trading symbol (e.g., "ETHUSDT")
	Side       Side        // Direction the position was held
	EntryPrice float64     // Average fill price of the entry order
	ExitPrice  float64     // Average fill price of the closing order
	Size       float64     // Position size at close
	Leverage   int         // Leverage used for the position
	PnL        float64     // Realized profit and loss, net of fees
	PnLPercent float64     // PnL as a percentage of the entry notional
	Fees       float64     // Total taker fees paid (entry + exit)
	Reason     CloseReason // Why the position was closed
	EntryTime  time.Time   // Timestamp when the position was opened
	ExitTime   time.Time   // Timestamp when the position was closed
}

// IsWin reports whether the trade realized a net profit.
func (t *Trade) IsWin() bool {
	return t.PnL > 0
}
