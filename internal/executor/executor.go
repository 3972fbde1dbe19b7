// Package executor turns trading decisions into exchange orders. It owns the
// multi-leg order flow (entry, stop loss, take profit), the retry policy for
// transient exchange failures and the bookkeeping that keeps the position
// store and trade history consistent with what happened on the exchange.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/store"
	"cryptoMultiBot/internal/trace"
)

// Config holds the order execution parameters.
type Config struct {
	Leverage        int           // Leverage recorded on opened positions
	TakerFeeRate    float64       // Fee rate applied to market fills (e.g., 0.0005)
	MaxOrderRetries int           // Retries after the first attempt for transient failures
	RetryBackoffMin time.Duration // Initial retry delay
	RetryBackoffMax time.Duration // Retry delay ceiling
	CallTimeout     time.Duration // Per-call deadline for exchange requests
}

// Executor places and manages orders for all symbols. Each operation holds
// the store's per-symbol action lock, so at most one open, close or adjust is
// in flight per symbol at any time. Callers must not hold that lock.
type Executor struct {
	cfg       Config
	exchange  ports.ExchangeClient
	positions *store.Store
	trades    ports.TradeRepository
	bus       *events.Bus
	logger    ports.Logger
}

// NewExecutor creates the order executor. The trade repository may be nil,
// which disables trade history persistence.
func NewExecutor(
	cfg Config,
	exchange ports.ExchangeClient,
	positions *store.Store,
	trades ports.TradeRepository,
	bus *events.Bus,
	logger ports.Logger,
) (*Executor, error) {
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
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.RetryBackoffMin <= 0 {
		cfg.RetryBackoffMin = 500 * time.Millisecond
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoffMin {
		cfg.RetryBackoffMax = 10 * cfg.RetryBackoffMin
	}
	return &Executor{
		cfg:       cfg,
		exchange:  exchange,
		positions: positions,
		trades:    trades,
		bus:       bus,
		logger:    logger.With(map[string]interface{}{"component": "executor"}),
	}, nil
}

// formatPrice formats a float64 price into a string suitable for the exchange API.
// TODO: Derive per-symbol precision from the exchange info filters.
func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// formatQuantity formats a float64 quantity into a string suitable for the exchange API.
// TODO: Derive per-symbol precision from the exchange info filters.
func formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', 3, 64)
}

// Open places a market entry for the given side and size, then attaches the
// protective stop-loss and take-profit legs. refPrice is the decision price,
// used as a fallback when the exchange does not report an average fill price.
// A stopLoss or takeProfit of zero disables that leg.
//
// A protective leg failure does not roll back the entry: the position is
// kept, the missing leg is logged and reported on the bus, and the tick-level
// price checks cover the gap until Adjust re-establishes the leg.
func (e *Executor) Open(ctx context.Context, symbol string, side domain.Side, size, refPrice, stopLoss, takeProfit float64) (*domain.Position, error) {
	op := "Open"
	if size <= 0 {
		return nil, fmt.Errorf("%s: %w: size must be positive, got %f", op, ports.ErrInvalidRequest, size)
	}

	ctx, span := trace.StartSpan(ctx, "executor.open")
	defer span.End()

	e.positions.Lock(symbol)
	defer e.positions.Unlock(symbol)

	if _, exists := e.positions.Get(symbol); exists {
		return nil, fmt.Errorf("%s: %w: %s", op, ports.ErrPositionExists, symbol)
	}

	quantityStr := formatQuantity(size)
	e.logger.Info(ctx, op+": Placing entry market order", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantityStr, "refPrice": refPrice,
	})

	entryOrder, err := e.placeOrder(ctx, op+": entry", func(c context.Context) (*ports.OrderResponse, error) {
		return e.exchange.PlaceMarketOrder(c, symbol, side.EntryOrderSide(), side, quantityStr, false)
	})
	if err != nil {
		e.logger.Error(ctx, err, op+": Entry market order failed", map[string]interface{}{"symbol": symbol})
		return nil, fmt.Errorf("entry market order failed: %w", err)
	}

	entryPrice := entryOrder.AvgPrice
	if entryPrice == 0 {
		e.logger.Warn(ctx, op+": Entry order reported no fill price, using decision price", map[string]interface{}{
			"orderID": entryOrder.OrderID, "fallbackPrice": refPrice,
		})
		entryPrice = refPrice
	}

	pos := &domain.Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Size:       size,
		Leverage:   e.cfg.Leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   time.Now().UTC(),
		EntryFee:   entryPrice * size * e.cfg.TakerFeeRate,
	}

	e.placeProtectiveLegs(ctx, pos, quantityStr)

	if err := e.positions.Upsert(ctx, pos); err != nil {
		// The exchange holds the position regardless, so memory stays
		// authoritative and only durability degrades.
		e.logger.Error(ctx, err, op+": Failed to persist opened position", map[string]interface{}{"symbol": symbol})
	}

	e.logger.Info(ctx, op+": Position opened", map[string]interface{}{
		"symbol": symbol, "side": side, "entryPrice": entryPrice,
		"size": size, "stopLoss": stopLoss, "takeProfit": takeProfit,
	})
	e.bus.PublishTradeOpened(pos)
	return pos, nil
}

// Close flattens the position for a symbol with a reduce-only market order,
// cancels any resting protective legs and records the completed trade.
// refPrice is the trigger price, used as a fallback when the exchange does
// not report an average fill price. Returns ErrPositionNotFound when flat.
func (e *Executor) Close(ctx context.Context, symbol string, refPrice float64, reason domain.CloseReason) (*domain.Trade, error) {
	op := "Close"
	ctx, span := trace.StartSpan(ctx, "executor.close")
	defer span.End()

	e.positions.Lock(symbol)
	defer e.positions.Unlock(symbol)

	pos, exists := e.positions.Get(symbol)
	if !exists {
		return nil, fmt.Errorf("%s: %w: %s", op, ports.ErrPositionNotFound, symbol)
	}

	quantityStr := formatQuantity(pos.Size)
	e.logger.Info(ctx, op+": Placing closing market order", map[string]interface{}{
		"symbol": symbol, "side": pos.Side, "quantity": quantityStr, "reason": reason,
	})

	closeOrder, err := e.placeOrder(ctx, op+": close", func(c context.Context) (*ports.OrderResponse, error) {
		return e.exchange.PlaceMarketOrder(c, symbol, pos.Side.ExitOrderSide(), pos.Side, quantityStr, true)
	})
	if err != nil {
		// The position stays open with its protective legs resting; the next
		// trigger will retry the close.
		e.logger.Error(ctx, err, op+": Closing market order failed", map[string]interface{}{"symbol": symbol})
		return nil, fmt.Errorf("closing market order failed: %w", err)
	}

	exitPrice := closeOrder.AvgPrice
	if exitPrice == 0 {
		e.logger.Warn(ctx, op+": Close order reported no fill price, using trigger price", map[string]interface{}{
			"orderID": closeOrder.OrderID, "fallbackPrice": refPrice,
		})
		exitPrice = refPrice
	}

	e.cancelLeg(ctx, symbol, pos.StopLossOrderID, "stop_loss")
	e.cancelLeg(ctx, symbol, pos.TakeProfitOrderID, "take_profit")

	exitFee := pos.Notional(exitPrice) * e.cfg.TakerFeeRate
	pnl := (exitPrice-pos.EntryPrice)*pos.Size*pos.Side.Sign() - (pos.EntryFee + exitFee)
	pnlPercent := 0.0
	if entryNotional := pos.Notional(pos.EntryPrice); entryNotional > 0 {
		pnlPercent = pnl / entryNotional * 100
	}

	trade := &domain.Trade{
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Fees:       pos.EntryFee + exitFee,
		Reason:     reason,
		EntryTime:  pos.OpenedAt,
		ExitTime:   time.Now().UTC(),
	}

	if e.trades != nil {
		id, err := e.trades.CreateTrade(ctx, trade)
		if err != nil {
			e.logger.Error(ctx, err, op+": Failed to persist trade", map[string]interface{}{"symbol": symbol})
		} else {
			trade.ID = id
		}
	}

	if err := e.positions.Remove(ctx, symbol); err != nil {
		e.logger.Error(ctx, err, op+": Failed to remove persisted position", map[string]interface{}{"symbol": symbol})
	}

	e.logger.Info(ctx, op+": Position closed", map[string]interface{}{
		"symbol": symbol, "exitPrice": exitPrice, "pnl": pnl, "reason": reason,
	})
	e.bus.PublishTradeClosed(trade)
	return trade, nil
}

// Reduce shrinks the position for a symbol by size with a reduce-only market
// order. No trade record is produced; the fee of the partial exit joins the
// fees carried on the position and settles at the full close. The protective
// legs are re-placed at the remaining size. size must be positive and
// strictly smaller than the position; a full close must go through Close.
func (e *Executor) Reduce(ctx context.Context, symbol string, size float64) (*domain.Position, error) {
	op := "Reduce"
	e.positions.Lock(symbol)
	defer e.positions.Unlock(symbol)

	pos, exists := e.positions.Get(symbol)
	if !exists {
		return nil, fmt.Errorf("%s: %w: %s", op, ports.ErrPositionNotFound, symbol)
	}
	if size <= 0 || size >= pos.Size {
		return nil, fmt.Errorf("%s: %w: reduce size %f out of range (0, %f)", op, ports.ErrInvalidRequest, size, pos.Size)
	}

	quantityStr := formatQuantity(size)
	e.logger.Info(ctx, op+": Placing reduce-only market order", map[string]interface{}{
		"symbol": symbol, "side": pos.Side, "quantity": quantityStr,
	})

	reduceOrder, err := e.placeOrder(ctx, op+": reduce", func(c context.Context) (*ports.OrderResponse, error) {
		return e.exchange.PlaceMarketOrder(c, symbol, pos.Side.ExitOrderSide(), pos.Side, quantityStr, true)
	})
	if err != nil {
		e.logger.Error(ctx, err, op+": Reduce-only market order failed", map[string]interface{}{"symbol": symbol})
		return nil, fmt.Errorf("reduce-only market order failed: %w", err)
	}

	fillPrice := reduceOrder.AvgPrice
	if fillPrice == 0 {
		fillPrice = pos.EntryPrice
	}
	pos.Size -= size
	pos.EntryFee += fillPrice * size * e.cfg.TakerFeeRate

	// The resting legs still cover the old size; replace them so a trigger
	// cannot overshoot into the opposite direction.
	e.cancelLeg(ctx, symbol, pos.StopLossOrderID, "stop_loss")
	e.cancelLeg(ctx, symbol, pos.TakeProfitOrderID, "take_profit")
	pos.StopLossOrderID = nil
	pos.TakeProfitOrderID = nil
	e.placeProtectiveLegs(ctx, pos, formatQuantity(pos.Size))

	if err := e.positions.Upsert(ctx, pos); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist reduced position", map[string]interface{}{"symbol": symbol})
	}

	e.logger.Info(ctx, op+": Position reduced", map[string]interface{}{
		"symbol": symbol, "reducedBy": size, "remaining": pos.Size,
	})
	e.bus.PublishPositionUpdate(pos)
	return pos, nil
}

// Adjust cancels the resting protective legs and re-places them at the given
// levels. A level of zero disables that leg. Unlike Open, a leg that fails to
// place here surfaces as ErrProtectiveLegFailed, since re-establishing the
// legs is the whole point of the call.
func (e *Executor) Adjust(ctx context.Context, symbol string, stopLoss, takeProfit float64) (*domain.Position, error) {
	op := "Adjust"
	e.positions.Lock(symbol)
	defer e.positions.Unlock(symbol)

	pos, exists := e.positions.Get(symbol)
	if !exists {
		return nil, fmt.Errorf("%s: %w: %s", op, ports.ErrPositionNotFound, symbol)
	}

	e.logger.Info(ctx, op+": Replacing protective legs", map[string]interface{}{
		"symbol": symbol, "stopLoss": stopLoss, "takeProfit": takeProfit,
	})

	e.cancelLeg(ctx, symbol, pos.StopLossOrderID, "stop_loss")
	e.cancelLeg(ctx, symbol, pos.TakeProfitOrderID, "take_profit")
	pos.StopLossOrderID = nil
	pos.TakeProfitOrderID = nil
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit

	e.placeProtectiveLegs(ctx, pos, formatQuantity(pos.Size))

	if err := e.positions.Upsert(ctx, pos); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist adjusted position", map[string]interface{}{"symbol": symbol})
	}
	e.bus.PublishPositionUpdate(pos)

	if (stopLoss > 0 && pos.StopLossOrderID == nil) || (takeProfit > 0 && pos.TakeProfitOrderID == nil) {
		return pos, fmt.Errorf("%s: %w: %s", op, ports.ErrProtectiveLegFailed, symbol)
	}
	return pos, nil
}

// placeProtectiveLegs places the stop-loss and take-profit legs for pos at
// the given quantity, storing the resulting order IDs on the position. Each
// leg failure is logged, reported on the bus and leaves that order ID nil.
func (e *Executor) placeProtectiveLegs(ctx context.Context, pos *domain.Position, quantityStr string) {
	exitSide := pos.Side.ExitOrderSide()

	if pos.StopLoss > 0 {
		slOrder, err := e.placeOrder(ctx, "stop loss leg", func(c context.Context) (*ports.OrderResponse, error) {
			return e.exchange.PlaceStopMarketOrder(c, pos.Symbol, exitSide, pos.Side, quantityStr, formatPrice(pos.StopLoss))
		})
		if err != nil {
			e.logger.Warn(ctx, "Stop loss leg failed to place, position unprotected on the exchange", map[string]interface{}{
				"symbol": pos.Symbol, "stopPrice": pos.StopLoss, "error": err.Error(),
			})
			e.bus.PublishError("executor", "stop loss leg failed for "+pos.Symbol, err)
		} else {
			pos.StopLossOrderID = &slOrder.OrderID
		}
	}

	if pos.TakeProfit > 0 {
		tpOrder, err := e.placeOrder(ctx, "take profit leg", func(c context.Context) (*ports.OrderResponse, error) {
			return e.exchange.PlaceTakeProfitMarketOrder(c, pos.Symbol, exitSide, pos.Side, quantityStr, formatPrice(pos.TakeProfit))
		})
		if err != nil {
			e.logger.Warn(ctx, "Take profit leg failed to place", map[string]interface{}{
				"symbol": pos.Symbol, "stopPrice": pos.TakeProfit, "error": err.Error(),
			})
			e.bus.PublishError("executor", "take profit leg failed for "+pos.Symbol, err)
		} else {
			pos.TakeProfitOrderID = &tpOrder.OrderID
		}
	}
}

// cancelLeg cancels a resting protective order, tolerating orders that are
// already gone (filled or cancelled on the exchange side).
func (e *Executor) cancelLeg(ctx context.Context, symbol string, orderID *int64, legName string) {
	if orderID == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.exchange.CancelOrder(callCtx, symbol, *orderID); err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Debug(ctx, "Protective order already gone", map[string]interface{}{
				"symbol": symbol, "orderID": *orderID, "leg": legName,
			})
			return
		}
		e.logger.Warn(ctx, "Failed to cancel protective order", map[string]interface{}{
			"symbol": symbol, "orderID": *orderID, "leg": legName, "error": err.Error(),
		})
	}
}

// placeOrder runs an order placement with the per-call timeout and retries
// transient failures with jittered exponential backoff. Rejections and other
// permanent errors return immediately.
func (e *Executor) placeOrder(ctx context.Context, op string, place func(ctx context.Context) (*ports.OrderResponse, error)) (*ports.OrderResponse, error) {
	b := &backoff.Backoff{
		Min:    e.cfg.RetryBackoffMin,
		Max:    e.cfg.RetryBackoffMax,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxOrderRetries; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			e.logger.Warn(ctx, op+": Retrying after transient failure", map[string]interface{}{
				"attempt": attempt, "delay": delay.String(), "error": lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", op, ports.ErrContextCanceled)
			case <-time.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		resp, err := place(callCtx)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ports.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
