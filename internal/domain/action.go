package domain

// ActionType tags the intent of a decision-function Action.
type ActionType string

const (
	ActionOpenLong   ActionType = "open_long"
	ActionOpenShort  ActionType = "open_short"
	ActionCloseLong  ActionType = "close_long"
	ActionCloseShort ActionType = "close_short"
	ActionReduce     ActionType = "reduce"
)

// Action is the transient intent emitted by a decision function or by the
// TP/SL monitor, consumed once by the order executor.
type Action struct {
	Type   ActionType // What the action intends to do
	Price  float64    // Reference price the decision was made at
	Size   float64    // Requested size (0 lets the risk sizer decide)
	Reason string     // Human-readable trigger (e.g., "extreme_volatility")
}

// IsOpen reports whether the action opens a new position.
func (a *Action) IsOpen() bool {
	return a.Type == ActionOpenLong || a.Type == ActionOpenShort
}

// IsClose reports whether the action closes an existing position in full.
func (a *Action) IsClose() bool {
	return a.Type == ActionCloseLong || a.Type == ActionCloseShort
}

// Side returns the position side the action refers to.
func (a *Action) Side() Side {
	switch a.Type {
	case ActionOpenShort, ActionCloseShort:
		return SideShort
	default:
		return SideLong
	}
}
