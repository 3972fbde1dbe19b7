package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository bundles the SQLite-backed persistence adapters. The
// sub-repositories implement ports.StrategyConfigRepository,
// ports.PositionRepository, ports.TradeRepository and ports.SignalRepository
// over one shared database handle.
type Repository struct {
	db     *sql.DB
	logger ports.Logger

	Configs   *ConfigRepository
	Positions *PositionRepository
	Trades    *TradeRepository
	Signals   *SignalRepository
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	repo.Configs = &ConfigRepository{db: db, logger: cfg.Logger}
	repo.Positions = &PositionRepository{db: db, logger: cfg.Logger}
	repo.Trades = &TradeRepository{db: db, logger: cfg.Logger}
	repo.Signals = &SignalRepository{db: db, logger: cfg.Logger}

	// Initialize schema (consider moving to a separate migration tool/step)
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS strategy_configs (
		symbol TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		started_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		size REAL NOT NULL,
		leverage INTEGER NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		entry_fee REAL NOT NULL DEFAULT 0,
		stop_order_id INTEGER DEFAULT NULL,
		take_profit_order_id INTEGER DEFAULT NULL,
		drift INTEGER NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL DEFAULT 0,
		fees REAL NOT NULL DEFAULT 0,
		close_reason TEXT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		price REAL NOT NULL,
		reason TEXT NULL,
		status TEXT NOT NULL
	);

	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_strategy_configs_status ON strategy_configs (status);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_exit_time ON trade_history (symbol, exit_time);
	CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals (created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StrategyConfigRepository Implementation ---

// ConfigRepository persists active strategy configurations.
type ConfigRepository struct {
	db     *sql.DB
	logger ports.Logger
}

// Save inserts or replaces the config row for its symbol.
func (c *ConfigRepository) Save(ctx context.Context, cfg *domain.StrategyConfig) error {
	const query = `
	INSERT OR REPLACE INTO strategy_configs (symbol, mode, interval_seconds, params, started_at, status)
	VALUES (?, ?, ?, ?, ?, ?)`

	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params for symbol %s: %w", cfg.Symbol, err)
	}

	_, err = c.db.ExecContext(ctx, query,
		cfg.Symbol, cfg.Mode, int64(cfg.Interval/time.Second), string(params), cfg.StartedAt, cfg.Status)
	if err != nil {
		return fmt.Errorf("failed to save strategy config for symbol %s: %w", cfg.Symbol, err)
	}
	c.logger.Debug(ctx, "Strategy config saved", map[string]interface{}{"symbol": cfg.Symbol, "mode": cfg.Mode})
	return nil
}

// Delete removes the config row for a symbol. Deleting a missing row is not an error.
func (c *ConfigRepository) Delete(ctx context.Context, symbol string) error {
	const query = `DELETE FROM strategy_configs WHERE symbol = ?`
	if _, err := c.db.ExecContext(ctx, query, symbol); err != nil {
		return fmt.Errorf("failed to delete strategy config for symbol %s: %w", symbol, err)
	}
	c.logger.Debug(ctx, "Strategy config deleted", map[string]interface{}{"symbol": symbol})
	return nil
}

// FindBySymbol retrieves the config for a symbol, or nil, nil when none is stored.
func (c *ConfigRepository) FindBySymbol(ctx context.Context, symbol string) (*domain.StrategyConfig, error) {
	const query = `
	SELECT symbol, mode, interval_seconds, params, started_at, status
	FROM strategy_configs
	WHERE symbol = ?`

	cfg, err := scanConfig(c.db.QueryRowContext(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query strategy config for symbol %s: %w", symbol, err)
	}
	return cfg, nil
}

// FindRunning retrieves all configs with status=running, the set restored on startup.
func (c *ConfigRepository) FindRunning(ctx context.Context) ([]*domain.StrategyConfig, error) {
	const query = `
	SELECT symbol, mode, interval_seconds, params, started_at, status
	FROM strategy_configs
	WHERE status = ?
	ORDER BY symbol`

	rows, err := c.db.QueryContext(ctx, query, domain.StrategyRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query running strategy configs: %w", err)
	}
	defer rows.Close()

	configs := make([]*domain.StrategyConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy config during FindRunning: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy config rows: %w", err)
	}
	return configs, nil
}

// --- PositionRepository Implementation ---

// PositionRepository persists open positions so they survive a restart.
type PositionRepository struct {
	db     *sql.DB
	logger ports.Logger
}

// Create saves a new open position and returns its assigned ID.
func (p *PositionRepository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, entry_price, size, leverage, stop_loss, take_profit,
	                       entry_fee, stop_order_id, take_profit_order_id, drift, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := p.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.EntryPrice, pos.Size, pos.Leverage, pos.StopLoss, pos.TakeProfit,
		pos.EntryFee, nullableOrderID(pos.StopLossOrderID), nullableOrderID(pos.TakeProfitOrderID),
		pos.Drift, pos.OpenedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id // Update the domain object with the ID
	p.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// Update modifies an existing open position based on its ID.
func (p *PositionRepository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET side = ?, entry_price = ?, size = ?, leverage = ?, stop_loss = ?, take_profit = ?,
	    entry_fee = ?, stop_order_id = ?, take_profit_order_id = ?, drift = ?
	WHERE id = ?`

	result, err := p.db.ExecContext(ctx, query,
		pos.Side, pos.EntryPrice, pos.Size, pos.Leverage, pos.StopLoss, pos.TakeProfit,
		pos.EntryFee, nullableOrderID(pos.StopLossOrderID), nullableOrderID(pos.TakeProfitOrderID),
		pos.Drift, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	p.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	return nil
}

// Remove deletes the open position row for a symbol. Removing a missing row is not an error.
func (p *PositionRepository) Remove(ctx context.Context, symbol string) error {
	const query = `DELETE FROM positions WHERE symbol = ?`
	if _, err := p.db.ExecContext(ctx, query, symbol); err != nil {
		return fmt.Errorf("failed to delete position for symbol %s: %w", symbol, err)
	}
	p.logger.Debug(ctx, "Position removed", map[string]interface{}{"symbol": symbol})
	return nil
}

// FindOpenBySymbol retrieves the open position for a symbol, or nil, nil when flat.
func (p *PositionRepository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	const query = `
	SELECT id, symbol, side, entry_price, size, leverage, stop_loss, take_profit,
	       entry_fee, stop_order_id, take_profit_order_id, drift, opened_at
	FROM positions
	WHERE symbol = ?`

	pos, err := scanPosition(p.db.QueryRowContext(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.logger.Debug(ctx, "No open position found for symbol", map[string]interface{}{"symbol": symbol})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// FindAllOpen retrieves all open positions, used to hydrate the store at boot.
func (p *PositionRepository) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, symbol, side, entry_price, size, leverage, stop_loss, take_profit,
	       entry_fee, stop_order_id, take_profit_order_id, drift, opened_at
	FROM positions
	ORDER BY opened_at DESC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindAllOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- TradeRepository Implementation ---

// TradeRepository stores completed round trips.
type TradeRepository struct {
	db     *sql.DB
	logger ports.Logger
}

// CreateTrade saves a new trade record and returns its assigned ID.
func (t *TradeRepository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (symbol, side, entry_price, exit_price, size, leverage, pnl,
	                           pnl_percent, fees, close_reason, entry_time, exit_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := t.db.ExecContext(ctx, query,
		trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice, trade.Size, trade.Leverage,
		trade.PnL, trade.PnLPercent, trade.Fees, trade.Reason, trade.EntryTime, trade.ExitTime)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Symbol, err)
	}
	trade.ID = id // Update domain object
	t.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PnL})
	return id, nil
}

// FindRecent retrieves the most recently closed trades across all symbols, up to a limit.
func (t *TradeRepository) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, size, leverage, pnl,
	       pnl_percent, fees, close_reason, entry_time, exit_time
	FROM trade_history
	ORDER BY exit_time DESC LIMIT ?`

	return t.queryTrades(ctx, query, limit)
}

// GetTotalPnL calculates the sum of realized PnL over all recorded trades.
func (t *TradeRepository) GetTotalPnL(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_history`
	var total float64
	if err := t.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total PnL: %w", err)
	}
	return total, nil
}

func (t *TradeRepository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// --- SignalRepository Implementation ---

// SignalRepository stores the append-only signal log.
type SignalRepository struct {
	db     *sql.DB
	logger ports.Logger
}

// CreateSignal appends a signal record.
func (s *SignalRepository) CreateSignal(ctx context.Context, sig *domain.Signal) error {
	const query = `
	INSERT INTO signals (id, created_at, symbol, action, price, reason, status)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sig.ID, sig.Timestamp, sig.Symbol, sig.Action, sig.Price, sig.Reason, sig.Status)
	if err != nil {
		return fmt.Errorf("failed to insert signal %s for symbol %s: %w", sig.ID, sig.Symbol, err)
	}
	s.logger.Debug(ctx, "Signal recorded", map[string]interface{}{"signalID": sig.ID, "symbol": sig.Symbol, "action": sig.Action})
	return nil
}

// UpdateStatus transitions a signal from pending to executed or failed.
func (s *SignalRepository) UpdateStatus(ctx context.Context, id string, status domain.SignalStatus) error {
	const query = `UPDATE signals SET status = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update signal %s status: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for signal %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("signal %s not found for status update: %w", id, ports.ErrNotFound)
	}
	return nil
}

// FindRecent retrieves the most recent signals, up to a limit.
func (s *SignalRepository) FindRecent(ctx context.Context, limit int) ([]*domain.Signal, error) {
	const query = `
	SELECT id, created_at, symbol, action, price, reason, status
	FROM signals
	ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := make([]*domain.Signal, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}
	return signals, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func nullableOrderID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// scanConfig scans a row into a domain.StrategyConfig struct.
func scanConfig(s scanner) (*domain.StrategyConfig, error) {
	cfg := &domain.StrategyConfig{}
	var intervalSeconds int64
	var params string
	err := s.Scan(&cfg.Symbol, &cfg.Mode, &intervalSeconds, &params, &cfg.StartedAt, &cfg.Status)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	cfg.Interval = time.Duration(intervalSeconds) * time.Second
	if params != "" {
		if err := json.Unmarshal([]byte(params), &cfg.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params for symbol %s: %w", cfg.Symbol, err)
		}
	}
	return cfg, nil
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var stopOrderID, tpOrderID sql.NullInt64
	err := s.Scan(
		&p.ID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Size, &p.Leverage, &p.StopLoss, &p.TakeProfit,
		&p.EntryFee, &stopOrderID, &tpOrderID, &p.Drift, &p.OpenedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if stopOrderID.Valid {
		p.StopLossOrderID = &stopOrderID.Int64
	}
	if tpOrderID.Valid {
		p.TakeProfitOrderID = &tpOrderID.Int64
	}
	return p, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.Symbol, &th.Side, &th.EntryPrice, &th.ExitPrice, &th.Size, &th.Leverage,
		&th.PnL, &th.PnLPercent, &th.Fees, &closeReason, &th.EntryTime, &th.ExitTime)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if closeReason.Valid {
		th.Reason = domain.CloseReason(closeReason.String)
	} else {
		th.Reason = domain.CloseReasonUnknown // Default if NULL
	}
	return th, nil
}

// scanSignal scans a row into a domain.Signal struct.
func scanSignal(s scanner) (*domain.Signal, error) {
	sig := &domain.Signal{}
	err := s.Scan(&sig.ID, &sig.Timestamp, &sig.Symbol, &sig.Action, &sig.Price, &sig.Reason, &sig.Status)
	if err != nil {
		return nil, err
	}
	return sig, nil
}
