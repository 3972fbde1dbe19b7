package ports

import (
	"context"

	"cryptoMultiBot/internal/domain"
)

// StrategyConfigRepository defines the durable store of active strategy
// configurations. Save must commit synchronously; a start request is only
// acknowledged after its config is on disk.
type StrategyConfigRepository interface {
	// Save inserts or replaces the config row for its symbol.
	Save(ctx context.Context, cfg *domain.StrategyConfig) error
	// Delete removes the config row for a symbol. Deleting a missing row is not an error.
	Delete(ctx context.Context, symbol string) error
	// FindBySymbol retrieves the config for a symbol.
	// Returns nil, nil if no config is stored.
	FindBySymbol(ctx context.Context, symbol string) (*domain.StrategyConfig, error)
	// FindRunning retrieves all configs with status=running, the set restored on startup.
	FindRunning(ctx context.Context) ([]*domain.StrategyConfig, error)
}

// PositionRepository defines the interface for persisting open positions so
// they survive a process restart. Closed positions leave this store and
// become trades.
type PositionRepository interface {
	// Create saves a new open position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing open position.
	Update(ctx context.Context, pos *domain.Position) error
	// Remove deletes the open position row for a symbol. Removing a missing row is not an error.
	Remove(ctx context.Context, symbol string) error
	// FindOpenBySymbol retrieves the open position for a symbol, if any.
	// Returns nil, nil if no open position is found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindAllOpen retrieves all open positions, used to hydrate the store at boot.
	FindAllOpen(ctx context.Context) ([]*domain.Position, error)
}

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindRecent retrieves the most recent trades across all symbols, up to a limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error)
	// GetTotalPnL calculates the sum of realized PnL over all recorded trades.
	GetTotalPnL(ctx context.Context) (float64, error)
}

// SignalRepository defines the interface for the append-only signal log.
type SignalRepository interface {
	// CreateSignal appends a signal record.
	CreateSignal(ctx context.Context, sig *domain.Signal) error
	// UpdateStatus transitions a signal from pending to executed or failed.
	UpdateStatus(ctx context.Context, id string, status domain.SignalStatus) error
	// FindRecent retrieves the most recent signals, up to a limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.Signal, error)
}
