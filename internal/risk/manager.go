package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

// Config holds the account-level risk limits shared by all running strategies.
type Config struct {
	PositionSizePct  float64 // fraction of the available balance committed per entry
	MaxPositionSize  float64 // hard cap on position size in base asset units
	MaxOpenPositions int     // maximum positions open across all symbols
	MaxDailyLoss     float64 // fraction of balance; trading halts for the day once breached
	MinBalance       float64 // minimum account balance required to open new positions
	StopLossPct      float64 // default stop distance when the strategy supplies none
	TakeProfitPct    float64 // default take-profit distance when the strategy supplies none
}

// DailyStats tracks realized results since the last daily reset.
type DailyStats struct {
	PnL       float64
	Trades    int
	Wins      int
	Losses    int
	ResetTime time.Time
}

// Manager approves entries, sizes positions and tracks daily loss limits.
// It is shared by every strategy runner, so all state is mutex guarded.
type Manager struct {
	config Config
	logger ports.Logger

	mu    sync.Mutex
	stats DailyStats
	now   func() time.Time
}

func NewManager(config Config, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if config.PositionSizePct <= 0 || config.PositionSizePct > 1 {
		return nil, fmt.Errorf("%w: position size pct must be in (0, 1], got %.4f", ports.ErrConfigurationError, config.PositionSizePct)
	}
	if config.MaxOpenPositions <= 0 {
		return nil, fmt.Errorf("%w: max open positions must be positive", ports.ErrConfigurationError)
	}
	n := time.Now()
	return &Manager{
		config: config,
		logger: logger,
		stats:  DailyStats{ResetTime: n},
		now:    time.Now,
	}, nil
}

// SizePosition returns the base asset quantity for a new entry at the given
// price, capped by MaxPositionSize. A zero or negative price yields zero.
func (m *Manager) SizePosition(balance, price float64) float64 {
	if price <= 0 || balance <= 0 {
		return 0
	}
	size := balance * m.config.PositionSizePct / price
	if m.config.MaxPositionSize > 0 && size > m.config.MaxPositionSize {
		size = m.config.MaxPositionSize
	}
	return size
}

// StopLossPrice computes the protective stop level for an entry. pct of zero
// falls back to the configured default; a zero default disables the stop.
func (m *Manager) StopLossPrice(entryPrice float64, side domain.Side, pct float64) float64 {
	if pct <= 0 {
		pct = m.config.StopLossPct
	}
	if pct <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entryPrice * (1 + pct)
	}
	return entryPrice * (1 - pct)
}

// TakeProfitPrice computes the profit target for an entry. pct of zero falls
// back to the configured default; a zero default disables the target.
func (m *Manager) TakeProfitPrice(entryPrice float64, side domain.Side, pct float64) float64 {
	if pct <= 0 {
		pct = m.config.TakeProfitPct
	}
	if pct <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entryPrice * (1 - pct)
	}
	return entryPrice * (1 + pct)
}

// ApproveEntry checks account-level limits before a new position is opened.
// It returns a wrapped ErrRiskLimitExceeded describing the first limit hit.
func (m *Manager) ApproveEntry(balance float64, openPositions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRollover()

	if m.config.MinBalance > 0 && balance < m.config.MinBalance {
		return fmt.Errorf("%w: balance %.2f below minimum %.2f", ports.ErrRiskLimitExceeded, balance, m.config.MinBalance)
	}
	if openPositions >= m.config.MaxOpenPositions {
		return fmt.Errorf("%w: %d positions already open (max %d)", ports.ErrRiskLimitExceeded, openPositions, m.config.MaxOpenPositions)
	}
	if m.config.MaxDailyLoss > 0 && balance > 0 {
		maxLoss := balance * m.config.MaxDailyLoss
		if m.stats.PnL <= -maxLoss {
			return fmt.Errorf("%w: daily loss %.2f reached limit %.2f", ports.ErrRiskLimitExceeded, -m.stats.PnL, maxLoss)
		}
	}
	return nil
}

// RecordTrade folds a closed trade into the daily statistics.
func (m *Manager) RecordTrade(trade *domain.Trade) {
	if trade == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRollover()

	m.stats.PnL += trade.PnL
	m.stats.Trades++
	if trade.IsWin() {
		m.stats.Wins++
	} else {
		m.stats.Losses++
	}
}

// Stats returns a copy of the statistics for the current day.
func (m *Manager) Stats() DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeRollover()
	return m.stats
}

// ResetDailyStats clears the counters immediately instead of waiting for the
// day boundary.
func (m *Manager) ResetDailyStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(m.now())
}

// maybeRollover resets the counters when a new UTC day has started. Caller
// must hold mu.
func (m *Manager) maybeRollover() {
	now := m.now()
	y1, d1 := m.stats.ResetTime.UTC().Year(), m.stats.ResetTime.UTC().YearDay()
	y2, d2 := now.UTC().Year(), now.UTC().YearDay()
	if y1 != y2 || d1 != d2 {
		m.reset(now)
	}
}

func (m *Manager) reset(now time.Time) {
	if m.stats.Trades > 0 {
		m.logger.Info(context.Background(), "Daily risk stats reset", map[string]interface{}{
			"previousPnL":    m.stats.PnL,
			"previousTrades": m.stats.Trades,
		})
	}
	m.stats = DailyStats{ResetTime: now}
}
