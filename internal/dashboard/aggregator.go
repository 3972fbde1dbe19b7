// Package dashboard maintains an in-process read model of recent activity.
// It is fed asynchronously by the event bus and queried by operators; the
// trading loop never touches it directly.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/store"
)

const defaultHistorySize = 100

// Statistics summarizes the realized performance of the buffered trades.
type Statistics struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	TotalFees    float64 `json:"total_fees"`
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Snapshot is a point-in-time view of the system: recent signals and trades
// from the aggregator's buffers, live positions straight from the store.
type Snapshot struct {
	Taken      time.Time          `json:"taken"`
	Signals    []*domain.Signal   `json:"signals"`
	Positions  []*domain.Position `json:"positions"`
	Trades     []*domain.Trade    `json:"trades"`
	Statistics Statistics         `json:"statistics"`
}

// Config holds the aggregator settings.
type Config struct {
	SignalHistory int // Buffered signal count (default 100)
	TradeHistory  int // Buffered trade count (default 100)
}

// Aggregator buffers recent signals and closed trades and accumulates
// realized statistics. Live positions are read from the store on demand, so
// clearing history never touches them.
type Aggregator struct {
	cfg       Config
	positions *store.Store
	logger    ports.Logger

	mu      sync.RWMutex
	signals []*domain.Signal
	trades  []*domain.Trade

	totalTrades int
	wins        int
	losses      int
	totalPnL    float64
	totalFees   float64
	sumWins     float64
	sumLosses   float64
}

// NewAggregator creates the read model and subscribes it to the bus.
func NewAggregator(cfg Config, positions *store.Store, bus *events.Bus, logger ports.Logger) (*Aggregator, error) {
	if positions == nil {
		return nil, fmt.Errorf("position store is required for dashboard aggregator")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required for dashboard aggregator")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for dashboard aggregator")
	}
	if cfg.SignalHistory <= 0 {
		cfg.SignalHistory = defaultHistorySize
	}
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = defaultHistorySize
	}

	a := &Aggregator{
		cfg:       cfg,
		positions: positions,
		logger:    logger.With(map[string]interface{}{"component": "dashboard"}),
	}
	bus.Subscribe(events.EventSignalGenerated, a.onSignal)
	bus.Subscribe(events.EventSignalUpdated, a.onSignal)
	bus.Subscribe(events.EventTradeClosed, a.onTradeClosed)
	return a, nil
}

// Hydrate preloads history from the repositories, called once at boot before
// the bus starts delivering live events. Either repository may be nil.
func (a *Aggregator) Hydrate(ctx context.Context, trades ports.TradeRepository, signals ports.SignalRepository) error {
	if trades != nil {
		recent, err := trades.FindRecent(ctx, a.cfg.TradeHistory)
		if err != nil {
			return fmt.Errorf("hydrating trade history: %w", err)
		}
		// FindRecent returns newest first; replay oldest first so the buffer
		// ends up in arrival order.
		for i := len(recent) - 1; i >= 0; i-- {
			a.recordTrade(recent[i])
		}
	}
	if signals != nil {
		recent, err := signals.FindRecent(ctx, a.cfg.SignalHistory)
		if err != nil {
			return fmt.Errorf("hydrating signal history: %w", err)
		}
		for i := len(recent) - 1; i >= 0; i-- {
			a.recordSignal(recent[i])
		}
	}

	a.mu.RLock()
	loaded := map[string]interface{}{"signals": len(a.signals), "trades": len(a.trades)}
	a.mu.RUnlock()
	a.logger.Info(ctx, "Dashboard history hydrated", loaded)
	return nil
}

func (a *Aggregator) onSignal(e events.Event) {
	sig, ok := e.Data.(*domain.Signal)
	if !ok {
		return
	}
	a.recordSignal(sig)
}

func (a *Aggregator) onTradeClosed(e events.Event) {
	trade, ok := e.Data.(*domain.Trade)
	if !ok {
		return
	}
	a.recordTrade(trade)
}

// recordSignal inserts or refreshes the buffered copy of a signal. Status
// updates arrive as separate events and may overtake the original emission,
// so an unknown ID is inserted rather than dropped.
func (a *Aggregator) recordSignal(sig *domain.Signal) {
	s := *sig
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, existing := range a.signals {
		if existing.ID == s.ID {
			a.signals[i] = &s
			return
		}
	}
	a.signals = append(a.signals, &s)
	if len(a.signals) > a.cfg.SignalHistory {
		a.signals = a.signals[len(a.signals)-a.cfg.SignalHistory:]
	}
}

func (a *Aggregator) recordTrade(trade *domain.Trade) {
	t := *trade
	a.mu.Lock()
	defer a.mu.Unlock()

	a.trades = append(a.trades, &t)
	if len(a.trades) > a.cfg.TradeHistory {
		a.trades = a.trades[len(a.trades)-a.cfg.TradeHistory:]
	}

	a.totalTrades++
	a.totalPnL += t.PnL
	a.totalFees += t.Fees
	if t.IsWin() {
		a.wins++
		a.sumWins += t.PnL
	} else {
		a.losses++
		a.sumLosses += t.PnL
	}
}

// Snapshot returns a copy of the current read model. Signals and trades are
// newest first; positions are the live set from the store.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		Taken:      time.Now().UTC(),
		Signals:    make([]*domain.Signal, 0, len(a.signals)),
		Trades:     make([]*domain.Trade, 0, len(a.trades)),
		Positions:  a.positions.All(),
		Statistics: a.statisticsLocked(),
	}
	for i := len(a.signals) - 1; i >= 0; i-- {
		s := *a.signals[i]
		snap.Signals = append(snap.Signals, &s)
	}
	for i := len(a.trades) - 1; i >= 0; i-- {
		t := *a.trades[i]
		snap.Trades = append(snap.Trades, &t)
	}
	return snap
}

// Statistics returns the accumulated realized statistics on their own.
func (a *Aggregator) Statistics() Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statisticsLocked()
}

func (a *Aggregator) statisticsLocked() Statistics {
	stats := Statistics{
		TotalTrades: a.totalTrades,
		Wins:        a.wins,
		Losses:      a.losses,
		TotalPnL:    a.totalPnL,
		TotalFees:   a.totalFees,
	}
	if a.totalTrades > 0 {
		stats.WinRate = float64(a.wins) / float64(a.totalTrades)
	}
	if a.wins > 0 {
		stats.AverageWin = a.sumWins / float64(a.wins)
	}
	if a.losses > 0 {
		stats.AverageLoss = a.sumLosses / float64(a.losses)
	}
	if a.sumLosses != 0 {
		stats.ProfitFactor = a.sumWins / -a.sumLosses
	}
	return stats
}

// Clear drops the buffered signal and trade history. Accumulated statistics
// and live positions are untouched.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signals = nil
	a.trades = nil
}

// Reset clears the history and zeroes the accumulated statistics. Live
// positions are never touched; they belong to the store.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signals = nil
	a.trades = nil
	a.totalTrades = 0
	a.wins = 0
	a.losses = 0
	a.totalPnL = 0
	a.totalFees = 0
	a.sumWins = 0
	a.sumLosses = 0
}
