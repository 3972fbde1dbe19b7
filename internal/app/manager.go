// Package app wires the trading engine together: the Manager owns the
// lifecycle of one strategy runner per symbol, and the reconciler keeps the
// local position picture aligned with the exchange.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/executor"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/risk"
	"cryptoMultiBot/internal/store"
	"cryptoMultiBot/internal/strategy"
)

// Structured result reasons returned across the control surface.
const (
	ReasonAlreadyRunning     = "already_running"
	ReasonMaxStrategies      = "max_strategies"
	ReasonInvalidMode        = "invalid_mode"
	ReasonInvalidConfig      = "invalid_config"
	ReasonPersistenceFailure = "persistence_failure"
	ReasonNotRunning         = "not_running"
)

// StartResult reports the outcome of a start request. Reason is empty on
// success and one of the Reason constants otherwise.
type StartResult struct {
	Started bool
	Reason  string
}

// StopResult reports the outcome of a stop request. Remaining is the number
// of strategies still running after the request.
type StopResult struct {
	Stopped   bool
	Remaining int
	Reason    string
}

// ActiveStrategy describes one running strategy for the status surface.
type ActiveStrategy struct {
	Symbol    string
	Mode      domain.Mode
	Interval  time.Duration
	StartedAt time.Time
	State     string // "idle" or "in_position"
}

// ManagerConfig holds the strategy lifecycle limits.
type ManagerConfig struct {
	MaxStrategies   int           // Concurrent runner cap
	DefaultInterval time.Duration // Tick interval applied when a start request omits one
	CallTimeout     time.Duration // Per-call deadline for persistence and exchange requests
	Leverage        int           // Exchange leverage applied per symbol at start (0 skips)
}

// Deps bundles the shared components every runner uses.
type Deps struct {
	Feed     ports.MarketDataFeed
	Exchange ports.ExchangeClient
	Store    *store.Store
	Executor *executor.Executor
	Risk     *risk.Manager
	Configs  ports.StrategyConfigRepository // Optional; nil disables config persistence and restore
	Signals  ports.SignalRepository         // Optional; nil disables the signal log
	Bus      *events.Bus
	Logger   ports.Logger
}

type runnerHandle struct {
	cfg      *domain.StrategyConfig
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool // teardown claimed; guarded by Manager.mu
}

// Manager starts, stops and restores strategy runners. All lifecycle entry
// points are safe for concurrent use.
type Manager struct {
	cfg  ManagerConfig
	deps Deps

	mu      sync.Mutex
	runners map[string]*runnerHandle
}

// NewManager creates the strategy lifecycle manager.
func NewManager(cfg ManagerConfig, deps Deps) (*Manager, error) {
	if deps.Feed == nil {
		return nil, fmt.Errorf("%w: market data feed is required", ports.ErrConfigurationError)
	}
	if deps.Exchange == nil {
		return nil, fmt.Errorf("%w: exchange client is required", ports.ErrConfigurationError)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: position store is required", ports.ErrConfigurationError)
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("%w: executor is required", ports.ErrConfigurationError)
	}
	if deps.Risk == nil {
		return nil, fmt.Errorf("%w: risk manager is required", ports.ErrConfigurationError)
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("%w: event bus is required", ports.ErrConfigurationError)
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if cfg.MaxStrategies <= 0 {
		cfg.MaxStrategies = 10
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 15 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		runners: make(map[string]*runnerHandle),
	}, nil
}

// Start launches a runner for the symbol. The config is persisted
// synchronously before the request is acknowledged, so an accepted start
// survives a process restart.
func (m *Manager) Start(ctx context.Context, symbol string, mode domain.Mode, interval time.Duration, params map[string]float64) StartResult {
	if interval <= 0 {
		interval = m.cfg.DefaultInterval
	}
	cfg := &domain.StrategyConfig{
		Symbol:    symbol,
		Mode:      mode,
		Interval:  interval,
		Params:    params,
		StartedAt: time.Now().UTC(),
		Status:    domain.StrategyRunning,
	}
	return m.start(ctx, cfg, true)
}

// start is the shared start path. persist is false on the restore path,
// where the config row already exists.
func (m *Manager) start(ctx context.Context, cfg *domain.StrategyConfig, persist bool) StartResult {
	if cfg.Symbol == "" {
		m.deps.Logger.Warn(ctx, "Start rejected: empty symbol")
		return StartResult{Reason: ReasonInvalidConfig}
	}
	if !cfg.Mode.IsValid() {
		m.deps.Logger.Warn(ctx, "Start rejected: unknown mode", map[string]interface{}{"symbol": cfg.Symbol, "mode": cfg.Mode})
		return StartResult{Reason: ReasonInvalidMode}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runners[cfg.Symbol]; exists {
		m.deps.Logger.Warn(ctx, "Start rejected: strategy already running", map[string]interface{}{"symbol": cfg.Symbol})
		return StartResult{Reason: ReasonAlreadyRunning}
	}
	if len(m.runners) >= m.cfg.MaxStrategies {
		m.deps.Logger.Warn(ctx, "Start rejected: max concurrent strategies reached", map[string]interface{}{
			"symbol": cfg.Symbol, "max": m.cfg.MaxStrategies,
		})
		return StartResult{Reason: ReasonMaxStrategies}
	}

	logger := m.deps.Logger.With(map[string]interface{}{"symbol": cfg.Symbol, "mode": string(cfg.Mode)})
	decider, err := strategy.New(strategy.Config{Mode: cfg.Mode, Params: cfg.Params}, logger)
	if err != nil {
		m.deps.Logger.Error(ctx, err, "Start rejected: strategy construction failed", map[string]interface{}{"symbol": cfg.Symbol})
		return StartResult{Reason: ReasonInvalidConfig}
	}

	if persist && m.deps.Configs != nil {
		saveCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		err := m.deps.Configs.Save(saveCtx, cfg)
		cancel()
		if err != nil {
			m.deps.Logger.Error(ctx, err, "Start rejected: config persistence failed", map[string]interface{}{"symbol": cfg.Symbol})
			return StartResult{Reason: ReasonPersistenceFailure}
		}
	}

	if m.cfg.Leverage > 0 {
		levCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		err := m.deps.Exchange.SetLeverage(levCtx, cfg.Symbol, m.cfg.Leverage)
		cancel()
		if err != nil {
			// The account keeps whatever leverage it already has. Entry sizing
			// is margin-based and never reads the leverage setting, so only warn.
			logger.Warn(ctx, "Failed to set leverage, continuing with account setting", map[string]interface{}{
				"leverage": m.cfg.Leverage, "error": err.Error(),
			})
		}
	}

	r := &runner{
		cfg:         cfg,
		decider:     decider,
		feed:        m.deps.Feed,
		exchange:    m.deps.Exchange,
		positions:   m.deps.Store,
		exec:        m.deps.Executor,
		risk:        m.deps.Risk,
		signals:     m.deps.Signals,
		bus:         m.deps.Bus,
		logger:      logger,
		callTimeout: m.cfg.CallTimeout,
	}

	// The runner outlives the start request, so its context derives from
	// Background rather than the request context.
	runnerCtx, cancel := context.WithCancel(context.Background())
	handle := &runnerHandle{cfg: cfg, cancel: cancel, done: make(chan struct{})}
	m.runners[cfg.Symbol] = handle

	go func() {
		defer close(handle.done)
		r.run(runnerCtx)
	}()

	m.deps.Logger.Info(ctx, "Strategy started", map[string]interface{}{
		"symbol": cfg.Symbol, "mode": cfg.Mode, "interval": cfg.Interval.String(), "active": len(m.runners),
	})
	m.deps.Bus.PublishStrategyStarted(cfg.Symbol, cfg.Mode)
	return StartResult{Started: true}
}

// Stop cancels the runner for a symbol and waits until it has fully drained.
// Any open position is left under exchange protection and reconciliation; a
// later start for the symbol resumes managing it.
func (m *Manager) Stop(ctx context.Context, symbol string) StopResult {
	m.mu.Lock()
	handle, exists := m.runners[symbol]
	if !exists || handle.stopping {
		remaining := len(m.runners)
		m.mu.Unlock()
		m.deps.Logger.Warn(ctx, "Stop rejected: no running strategy", map[string]interface{}{"symbol": symbol})
		return StopResult{Remaining: remaining, Reason: ReasonNotRunning}
	}
	// Claim the teardown: a duplicate Stop for the same symbol reports
	// not_running, and the map entry stays until the drain completes so a
	// concurrent Start keeps seeing already_running.
	handle.stopping = true
	handle.cancel()
	m.mu.Unlock()

	// Join outside the lock; an in-flight close completes before the runner
	// goroutine exits.
	<-handle.done

	reason := ""
	if m.deps.Configs != nil && m.owns(symbol, handle) {
		delCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		err := m.deps.Configs.Delete(delCtx, symbol)
		cancel()
		if err != nil {
			// The runner is stopped regardless; the stale row would resurrect
			// the strategy on restart, so the degraded result is flagged.
			m.deps.Logger.Error(ctx, err, "Failed to delete persisted config on stop", map[string]interface{}{"symbol": symbol})
			reason = ReasonPersistenceFailure
		}
	}

	m.mu.Lock()
	if m.runners[symbol] == handle {
		delete(m.runners, symbol)
	}
	remaining := len(m.runners)
	m.mu.Unlock()

	m.deps.Logger.Info(ctx, "Strategy stopped", map[string]interface{}{"symbol": symbol, "remaining": remaining})
	m.deps.Bus.PublishStrategyStopped(symbol)
	return StopResult{Stopped: true, Remaining: remaining, Reason: reason}
}

// owns reports whether handle is still the registered runner for the symbol.
// Shutdown evicts handles wholesale and a later start may register a new one;
// a stop that lost its entry must not delete the successor's state.
func (m *Manager) owns(symbol string, handle *runnerHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runners[symbol] == handle
}

// Shutdown cancels every runner and waits for each to drain, leaving the
// persisted configs in place so the next boot restores the same set. Stop and
// StopAll are the operator paths that also delete the configs. Returns the
// number of runners drained before ctx expired.
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	handles := make([]*runnerHandle, 0, len(m.runners))
	for _, handle := range m.runners {
		handle.cancel()
		handles = append(handles, handle)
	}
	m.runners = make(map[string]*runnerHandle)
	m.mu.Unlock()

	drained := 0
	for _, handle := range handles {
		select {
		case <-handle.done:
			drained++
		case <-ctx.Done():
			m.deps.Logger.Warn(ctx, "Shutdown gave up waiting for runners", map[string]interface{}{
				"drained": drained, "total": len(handles),
			})
			return drained
		}
	}
	m.deps.Logger.Info(ctx, "All strategy runners drained", map[string]interface{}{"count": drained})
	return drained
}

// StopAll stops every running strategy and returns how many were stopped.
func (m *Manager) StopAll(ctx context.Context) int {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.runners))
	for symbol := range m.runners {
		symbols = append(symbols, symbol)
	}
	m.mu.Unlock()

	stopped := 0
	for _, symbol := range symbols {
		if res := m.Stop(ctx, symbol); res.Stopped {
			stopped++
		}
	}
	return stopped
}

// Status returns a snapshot of the running strategies, sorted by symbol.
func (m *Manager) Status() []ActiveStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ActiveStrategy, 0, len(m.runners))
	for symbol, handle := range m.runners {
		state := "idle"
		if _, ok := m.deps.Store.Get(symbol); ok {
			state = "in_position"
		}
		out = append(out, ActiveStrategy{
			Symbol:    symbol,
			Mode:      handle.cfg.Mode,
			Interval:  handle.cfg.Interval,
			StartedAt: handle.cfg.StartedAt,
			State:     state,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RestoreAll re-launches every persisted strategy with status=running,
// called once at process startup after the position store is hydrated.
func (m *Manager) RestoreAll(ctx context.Context) error {
	if m.deps.Configs == nil {
		return nil
	}
	findCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	configs, err := m.deps.Configs.FindRunning(findCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("restoring strategies: %w", err)
	}

	restored := 0
	for _, cfg := range configs {
		res := m.start(ctx, cfg, false)
		if res.Started {
			restored++
		} else {
			m.deps.Logger.Warn(ctx, "Persisted strategy not restored", map[string]interface{}{
				"symbol": cfg.Symbol, "reason": res.Reason,
			})
		}
	}
	m.deps.Logger.Info(ctx, "Strategy restore complete", map[string]interface{}{
		"persisted": len(configs), "restored": restored,
	})
	return nil
}
