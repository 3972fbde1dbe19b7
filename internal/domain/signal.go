package domain

import "time"

// SignalStatus tracks the outcome of an attempted action.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalExecuted SignalStatus = "executed"
	SignalFailed   SignalStatus = "failed"
)

// Signal is the immutable log record of an Action attempt. One Signal is
// written per attempt; only its status transitions (pending -> executed or
// failed) once the executor reports the outcome.
type Signal struct {
	ID        string       // UUID assigned at emission
	Timestamp time.Time    // When the action was attempted
	Symbol    string       // Trading symbol the action targets
	Action    ActionType   // Intent of the attempted action
	Price     float64      // Reference price at decision time
	Reason    string       // Trigger description (e.g., "extreme_volatility")
	Status    SignalStatus // pending, executed or failed
}
