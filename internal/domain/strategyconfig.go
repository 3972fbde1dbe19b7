package domain

import "time"

// StrategyConfig is the durable description of one active strategy. It is
// persisted synchronously on start, deleted on stop, and every row with
// status=running is re-instantiated as a runner on process startup.
type StrategyConfig struct {
	Symbol    string             // Trading symbol, unique key
	Mode      Mode               // Decision mode (bear, bull, scalp, range)
	Interval  time.Duration      // Tick interval of the runner loop
	Params    map[string]float64 // Mode-specific tunables (thresholds, percents)
	StartedAt time.Time          // When the strategy was started
	Status    StrategyStatus     // running or stopped
}

// Param returns the named parameter or the given default when unset.
func (c *StrategyConfig) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}
