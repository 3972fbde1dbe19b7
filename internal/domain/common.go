package domain

// Side represents the direction of a position (long or short).
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short, used in PnL arithmetic.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OrderSide represents the side of an exchange order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// EntryOrderSide returns the order side that opens a position of this side.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// ExitOrderSide returns the order side that closes a position of this side.
func (s Side) ExitOrderSide() OrderSide {
	if s == SideShort {
		return Buy
	}
	return Sell
}

// Mode identifies a strategy decision mode.
type Mode string

const (
	ModeBear  Mode = "bear"
	ModeBull  Mode = "bull"
	ModeScalp Mode = "scalp"
	ModeRange Mode = "range"
)

// IsValid reports whether the mode is one of the supported decision modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeBear, ModeBull, ModeScalp, ModeRange:
		return true
	}
	return false
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStrategy   CloseReason = "strategy"
	CloseReasonManual     CloseReason = "manual"
	CloseReasonReconcile  CloseReason = "reconcile" // Position disappeared on the exchange; closed during reconciliation
	CloseReasonUnknown    CloseReason = "unknown"
)

// StrategyStatus represents the lifecycle state of a persisted strategy config.
type StrategyStatus string

const (
	StrategyRunning StrategyStatus = "running"
	StrategyStopped StrategyStatus = "stopped"
)
