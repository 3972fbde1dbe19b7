package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/risk"
	"cryptoMultiBot/internal/store"
	"cryptoMultiBot/internal/trace"
)

// ReconcilerConfig holds the reconciliation loop parameters.
type ReconcilerConfig struct {
	Interval      time.Duration // Pass interval (e.g., 30s)
	CallTimeout   time.Duration // Per-call deadline for exchange requests
	SizeTolerance float64       // Relative size mismatch tolerated before adopting exchange numbers
	TakerFeeRate  float64       // Used to estimate the exit fee of externally closed positions
}

// Reconciler periodically compares the local position picture against the
// exchange and heals toward exchange truth: it refreshes unrealized PnL,
// adopts positions the exchange holds that we do not know about, and retires
// local positions the exchange no longer reports.
type Reconciler struct {
	cfg      ReconcilerConfig
	exchange ports.ExchangeClient
	store    *store.Store
	trades   ports.TradeRepository
	risk     *risk.Manager
	bus      *events.Bus
	logger   ports.Logger
}

// NewReconciler creates the reconciler. The trade repository may be nil,
// which disables persistence of synthesized trades.
func NewReconciler(cfg ReconcilerConfig, exchange ports.ExchangeClient, positions *store.Store, trades ports.TradeRepository, riskMgr *risk.Manager, bus *events.Bus, logger ports.Logger) (*Reconciler, error) {
	if exchange == nil {
		return nil, fmt.Errorf("%w: exchange client is required", ports.ErrConfigurationError)
	}
	if positions == nil {
		return nil, fmt.Errorf("%w: position store is required", ports.ErrConfigurationError)
	}
	if bus == nil {
		return nil, fmt.Errorf("%w: event bus is required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.SizeTolerance <= 0 {
		cfg.SizeTolerance = 0.001
	}
	return &Reconciler{
		cfg:      cfg,
		exchange: exchange,
		store:    positions,
		trades:   trades,
		risk:     riskMgr,
		bus:      bus,
		logger:   logger.With(map[string]interface{}{"component": "reconciler"}),
	}, nil
}

// Run executes reconciliation passes until the context is cancelled. It runs
// on its own goroutine, independent of the strategy runners.
func (rc *Reconciler) Run(ctx context.Context) {
	rc.logger.Info(ctx, "Reconciler started", map[string]interface{}{"interval": rc.cfg.Interval.String()})
	ticker := time.NewTicker(rc.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rc.logger.Info(ctx, "Reconciler stopped")
			return
		case <-ticker.C:
			rc.Pass(ctx)
		}
	}
}

// Pass runs a single reconciliation cycle. Exchange fetches happen outside
// any position lock; per-symbol mutations take the symbol's action lock so
// they cannot race an in-flight open or close.
func (rc *Reconciler) Pass(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "reconciler.pass")
	defer span.End()

	local := rc.store.All()

	exCtx, cancel := context.WithTimeout(ctx, rc.cfg.CallTimeout)
	exchangePositions, err := rc.exchange.GetPositions(exCtx)
	cancel()
	if err != nil {
		rc.logger.Warn(ctx, "Reconciliation pass skipped, exchange positions unavailable", map[string]interface{}{"error": err.Error()})
		return
	}

	exBySymbol := make(map[string]*ports.ExchangePosition, len(exchangePositions))
	for _, ep := range exchangePositions {
		if ep.PositionAmt != 0 {
			exBySymbol[ep.Symbol] = ep
		}
	}

	localSymbols := make(map[string]bool, len(local))
	for _, pos := range local {
		localSymbols[pos.Symbol] = true
		ep, held := exBySymbol[pos.Symbol]
		if !held {
			rc.retireVanished(ctx, pos)
			continue
		}
		rc.syncHeld(ctx, pos, ep)
	}

	for symbol, ep := range exBySymbol {
		if !localSymbols[symbol] {
			rc.adopt(ctx, ep)
		}
	}
}

// syncHeld refreshes the tracked position from the exchange report and
// adopts the exchange numbers when size or entry disagree beyond tolerance.
func (rc *Reconciler) syncHeld(ctx context.Context, pos *domain.Position, ep *ports.ExchangePosition) {
	exSize := math.Abs(ep.PositionAmt)

	if rc.store.UpdateUnrealizedPnL(pos.Symbol, ep.UnRealizedProfit) {
		if updated, ok := rc.store.Get(pos.Symbol); ok {
			rc.bus.PublishPositionUpdate(updated)
		}
	}

	sizeDrift := math.Abs(exSize-pos.Size) > rc.cfg.SizeTolerance*pos.Size
	sideDrift := ep.Side() != pos.Side
	if !sizeDrift && !sideDrift {
		return
	}

	rc.store.Lock(pos.Symbol)
	defer rc.store.Unlock(pos.Symbol)

	current, ok := rc.store.Get(pos.Symbol)
	if !ok {
		return
	}
	rc.logger.Warn(ctx, "Position drift detected, adopting exchange numbers", map[string]interface{}{
		"symbol": pos.Symbol, "localSize": current.Size, "exchangeSize": exSize,
		"localSide": current.Side, "exchangeSide": ep.Side(),
	})

	current.Side = ep.Side()
	current.Size = exSize
	current.EntryPrice = ep.EntryPrice
	current.UnrealizedPnL = ep.UnRealizedProfit
	current.Drift = true
	if err := rc.store.Upsert(ctx, current); err != nil {
		rc.logger.Error(ctx, err, "Failed to persist resized position", map[string]interface{}{"symbol": pos.Symbol})
	}
	rc.bus.PublishDrift(events.Drift{
		Symbol: pos.Symbol, Kind: "resized", LocalSize: pos.Size, ExchangeSize: exSize,
	})
}

// retireVanished removes a locally tracked position the exchange no longer
// reports, synthesizing the trade record for the externally executed close.
func (rc *Reconciler) retireVanished(ctx context.Context, pos *domain.Position) {
	rc.store.Lock(pos.Symbol)
	defer rc.store.Unlock(pos.Symbol)

	current, ok := rc.store.Get(pos.Symbol)
	if !ok {
		// Closed locally between the snapshot and now.
		return
	}

	markCtx, cancel := context.WithTimeout(ctx, rc.cfg.CallTimeout)
	exitPrice, err := rc.exchange.GetMarkPrice(markCtx, pos.Symbol)
	cancel()
	if err != nil || exitPrice <= 0 {
		exitPrice = current.EntryPrice
	}

	rc.logger.Warn(ctx, "Position vanished on the exchange, retiring local record", map[string]interface{}{
		"symbol": pos.Symbol, "size": current.Size, "assumedExitPrice": exitPrice,
	})

	// The close happened outside this process, so the exit price and fee are
	// best-effort estimates from the current mark.
	exitFee := current.Notional(exitPrice) * rc.cfg.TakerFeeRate
	pnl := (exitPrice-current.EntryPrice)*current.Size*current.Side.Sign() - (current.EntryFee + exitFee)
	pnlPercent := 0.0
	if entryNotional := current.Notional(current.EntryPrice); entryNotional > 0 {
		pnlPercent = pnl / entryNotional * 100
	}
	trade := &domain.Trade{
		Symbol:     current.Symbol,
		Side:       current.Side,
		EntryPrice: current.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       current.Size,
		Leverage:   current.Leverage,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Fees:       current.EntryFee + exitFee,
		Reason:     domain.CloseReasonReconcile,
		EntryTime:  current.OpenedAt,
		ExitTime:   time.Now().UTC(),
	}

	if rc.trades != nil {
		tradeCtx, cancel := context.WithTimeout(ctx, rc.cfg.CallTimeout)
		if id, err := rc.trades.CreateTrade(tradeCtx, trade); err != nil {
			rc.logger.Error(ctx, err, "Failed to persist synthesized trade", map[string]interface{}{"symbol": pos.Symbol})
		} else {
			trade.ID = id
		}
		cancel()
	}
	if err := rc.store.Remove(ctx, pos.Symbol); err != nil {
		rc.logger.Error(ctx, err, "Failed to remove retired position", map[string]interface{}{"symbol": pos.Symbol})
	}
	if rc.risk != nil {
		rc.risk.RecordTrade(trade)
	}

	rc.bus.PublishDrift(events.Drift{Symbol: pos.Symbol, Kind: "removed", LocalSize: pos.Size})
	rc.bus.PublishTradeClosed(trade)
}

// adopt starts tracking a position the exchange holds that no local record
// explains, marked with the drift flag. Resting protective orders on the
// symbol, if any, are recorded as the adopted levels so the tick check can
// manage the position like a locally opened one.
func (rc *Reconciler) adopt(ctx context.Context, ep *ports.ExchangePosition) {
	rc.store.Lock(ep.Symbol)
	defer rc.store.Unlock(ep.Symbol)

	if _, ok := rc.store.Get(ep.Symbol); ok {
		// Opened locally between the snapshot and now.
		return
	}

	pos := &domain.Position{
		Symbol:        ep.Symbol,
		Side:          ep.Side(),
		EntryPrice:    ep.EntryPrice,
		Size:          math.Abs(ep.PositionAmt),
		Leverage:      ep.Leverage,
		OpenedAt:      time.Now().UTC(),
		UnrealizedPnL: ep.UnRealizedProfit,
		Drift:         true,
	}

	ordCtx, cancel := context.WithTimeout(ctx, rc.cfg.CallTimeout)
	orders, err := rc.exchange.GetOpenOrders(ordCtx, ep.Symbol)
	cancel()
	if err != nil {
		rc.logger.Warn(ctx, "Could not inspect resting orders for adopted position", map[string]interface{}{
			"symbol": ep.Symbol, "error": err.Error(),
		})
	}
	for _, order := range orders {
		switch order.Type {
		case "STOP_MARKET":
			if pos.StopLossOrderID == nil && order.StopPrice > 0 {
				id := order.OrderID
				pos.StopLoss = order.StopPrice
				pos.StopLossOrderID = &id
			}
		case "TAKE_PROFIT_MARKET":
			if pos.TakeProfitOrderID == nil && order.StopPrice > 0 {
				id := order.OrderID
				pos.TakeProfit = order.StopPrice
				pos.TakeProfitOrderID = &id
			}
		}
	}

	rc.logger.Warn(ctx, "Adopting unknown exchange position", map[string]interface{}{
		"symbol": ep.Symbol, "side": pos.Side, "size": pos.Size, "entryPrice": pos.EntryPrice,
		"protected": pos.Protected(),
	})
	if err := rc.store.Upsert(ctx, pos); err != nil {
		rc.logger.Error(ctx, err, "Failed to persist adopted position", map[string]interface{}{"symbol": ep.Symbol})
	}
	rc.bus.PublishDrift(events.Drift{Symbol: ep.Symbol, Kind: "adopted", ExchangeSize: pos.Size})
	rc.bus.PublishPositionUpdate(pos)
}
