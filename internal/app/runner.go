package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/executor"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/risk"
	"cryptoMultiBot/internal/store"
	"cryptoMultiBot/internal/trace"
)

// runner drives one symbol: a ticker loop that fetches market data, applies
// the structural TP/SL check, consults the decision function only while flat
// and forwards actions to the executor. One goroutine per runner; the
// manager owns its lifecycle.
type runner struct {
	cfg         *domain.StrategyConfig
	decider     ports.Decider
	feed        ports.MarketDataFeed
	exchange    ports.ExchangeClient
	positions   *store.Store
	exec        *executor.Executor
	risk        *risk.Manager
	signals     ports.SignalRepository
	bus         *events.Bus
	logger      ports.Logger
	callTimeout time.Duration
}

// run is the runner goroutine body. It performs one tick immediately so a
// freshly started strategy does not idle for a full interval, then ticks at
// the configured interval until the context is cancelled.
func (r *runner) run(ctx context.Context) {
	r.logger.Info(ctx, "Strategy runner started", map[string]interface{}{
		"mode": r.cfg.Mode, "interval": r.cfg.Interval.String(),
	})

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Strategy runner stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick executes one evaluation cycle. A failed tick never crashes the
// runner: errors are logged and the next tick starts clean.
func (r *runner) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic in runner tick: %v", rec)
			r.logger.Error(ctx, err, "Runner tick panicked, continuing with next tick")
			r.bus.PublishError("runner:"+r.cfg.Symbol, "tick panicked", err)
		}
	}()

	select {
	case <-ctx.Done():
		return
	default:
	}

	ctx, span := trace.StartSpan(ctx, "strategy.tick")
	defer span.End()

	symbol := r.cfg.Symbol

	priceCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	price, err := r.feed.GetPrice(priceCtx, symbol)
	cancel()
	if err != nil {
		r.logger.Warn(ctx, "Skipping tick, price unavailable", map[string]interface{}{"error": err.Error()})
		return
	}

	// Structural TP/SL check runs before any mode logic, and the decision
	// function is never consulted while a position is open.
	if pos, ok := r.positions.Get(symbol); ok {
		switch {
		case pos.HitStopLoss(price):
			r.closePosition(ctx, pos, price, domain.CloseReasonStopLoss)
		case pos.HitTakeProfit(price):
			r.closePosition(ctx, pos, price, domain.CloseReasonTakeProfit)
		}
		return
	}

	klinesCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	klines, err := r.feed.GetKlines(klinesCtx, symbol, r.decider.KlineInterval(), r.decider.RequiredDataPoints())
	cancel()
	if err != nil {
		r.logger.Warn(ctx, "Skipping tick, klines unavailable", map[string]interface{}{"error": err.Error()})
		return
	}

	action, err := r.decider.Decide(ctx, ports.DecisionContext{
		Symbol: symbol,
		Price:  price,
		Klines: klines,
	})
	if err != nil {
		if errors.Is(err, ports.ErrDataUnavailable) {
			r.logger.Debug(ctx, "Decision skipped, insufficient data", map[string]interface{}{"error": err.Error()})
		} else {
			r.logger.Warn(ctx, "Decision function failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	if action == nil {
		return
	}
	if !action.IsOpen() {
		// Closing while flat is a no-op in the position state machine;
		// anything else from a decider while flat is unexpected.
		if action.IsClose() {
			r.logger.Debug(ctx, "Ignoring close action while flat", map[string]interface{}{"action": action.Type})
		} else {
			r.logger.Warn(ctx, "Ignoring unexpected action while flat", map[string]interface{}{"action": action.Type})
		}
		return
	}

	r.openPosition(ctx, action)
}

// openPosition runs the risk checks and forwards an open action to the
// executor, recording the attempt as a signal either way.
func (r *runner) openPosition(ctx context.Context, action *domain.Action) {
	sig := r.newSignal(action)
	r.recordSignal(ctx, sig)

	balCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	balance, err := r.exchange.GetAccountBalance(balCtx)
	cancel()
	if err != nil {
		r.logger.Warn(ctx, "Entry skipped, balance unavailable", map[string]interface{}{"error": err.Error()})
		r.finishSignal(ctx, sig, err)
		return
	}

	if err := r.risk.ApproveEntry(balance, r.positions.Count()); err != nil {
		r.logger.Warn(ctx, "Entry rejected by risk checks", map[string]interface{}{"error": err.Error()})
		r.finishSignal(ctx, sig, err)
		return
	}

	size := action.Size
	if size <= 0 {
		size = r.risk.SizePosition(balance, action.Price)
	}
	if size <= 0 {
		err := fmt.Errorf("%w: computed size is zero", ports.ErrRiskLimitExceeded)
		r.logger.Warn(ctx, "Entry skipped, computed size is zero", map[string]interface{}{"balance": balance})
		r.finishSignal(ctx, sig, err)
		return
	}

	side := action.Side()
	stopLoss := r.risk.StopLossPrice(action.Price, side, r.cfg.Param("stop_loss_pct", 0))
	takeProfit := r.risk.TakeProfitPrice(action.Price, side, r.cfg.Param("take_profit_pct", 0))

	_, err = r.exec.Open(ctx, r.cfg.Symbol, side, size, action.Price, stopLoss, takeProfit)
	if err != nil {
		// Rejections (margin, filters, position mode) are operating conditions
		// the operator tunes around; anything else is an infrastructure fault.
		if ports.IsRejected(err) {
			r.logger.Warn(ctx, "Entry rejected by exchange", map[string]interface{}{
				"action": action.Type, "reason": action.Reason, "error": err.Error(),
			})
		} else {
			r.logger.Error(ctx, err, "Entry failed", map[string]interface{}{"action": action.Type, "reason": action.Reason})
		}
	}
	r.finishSignal(ctx, sig, err)
}

// closePosition forwards a TP/SL close to the executor. The close runs on a
// context detached from runner cancellation so a stop request cannot abandon
// a half-executed close.
func (r *runner) closePosition(ctx context.Context, pos *domain.Position, price float64, reason domain.CloseReason) {
	closeType := domain.ActionCloseLong
	if pos.Side == domain.SideShort {
		closeType = domain.ActionCloseShort
	}
	sig := r.newSignal(&domain.Action{Type: closeType, Price: price, Reason: string(reason)})
	r.recordSignal(ctx, sig)

	closeCtx := context.WithoutCancel(ctx)
	trade, err := r.exec.Close(closeCtx, r.cfg.Symbol, price, reason)
	if err != nil {
		if errors.Is(err, ports.ErrPositionNotFound) {
			r.logger.Warn(ctx, "Close trigger was stale, position already gone", map[string]interface{}{"reason": reason})
		} else {
			r.logger.Error(ctx, err, "Close failed", map[string]interface{}{"reason": reason})
		}
		r.finishSignal(closeCtx, sig, err)
		return
	}

	r.risk.RecordTrade(trade)
	r.finishSignal(closeCtx, sig, nil)
}

func (r *runner) newSignal(action *domain.Action) *domain.Signal {
	return &domain.Signal{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Symbol:    r.cfg.Symbol,
		Action:    action.Type,
		Price:     action.Price,
		Reason:    action.Reason,
		Status:    domain.SignalPending,
	}
}

// recordSignal appends the pending signal to the log and announces it. A
// persistence failure costs history, not the action itself.
func (r *runner) recordSignal(ctx context.Context, sig *domain.Signal) {
	if r.signals != nil {
		sigCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		if err := r.signals.CreateSignal(sigCtx, sig); err != nil {
			r.logger.Warn(ctx, "Failed to persist signal", map[string]interface{}{"signalID": sig.ID, "error": err.Error()})
		}
		cancel()
	}
	r.bus.PublishSignal(sig)
}

// finishSignal transitions the signal to executed or failed.
func (r *runner) finishSignal(ctx context.Context, sig *domain.Signal, actionErr error) {
	sig.Status = domain.SignalExecuted
	if actionErr != nil {
		sig.Status = domain.SignalFailed
	}
	if r.signals != nil {
		sigCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		if err := r.signals.UpdateStatus(sigCtx, sig.ID, sig.Status); err != nil {
			r.logger.Warn(ctx, "Failed to update signal status", map[string]interface{}{"signalID": sig.ID, "error": err.Error()})
		}
		cancel()
	}
	r.bus.PublishSignalUpdate(sig)
}
