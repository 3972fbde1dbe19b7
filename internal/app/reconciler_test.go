package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/risk"
	"cryptoMultiBot/internal/store"
)

type reconcilerFixture struct {
	exchange *mockExchange
	trades   *mockTradeRepo
	store    *store.Store
	bus      *events.Bus
	risk     *risk.Manager
	rec      *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	logger := &mockLogger{}
	st, err := store.NewStore(store.Config{Logger: logger})
	require.NoError(t, err)

	f := &reconcilerFixture{
		exchange: newAppMockExchange(),
		trades:   &mockTradeRepo{},
		store:    st,
		bus:      events.NewBus(),
	}
	f.risk, err = risk.NewManager(risk.Config{
		PositionSizePct:  0.1,
		MaxOpenPositions: 5,
	}, logger)
	require.NoError(t, err)

	f.rec, err = NewReconciler(ReconcilerConfig{
		Interval:     time.Hour,
		CallTimeout:  time.Second,
		TakerFeeRate: 0.0005,
	}, f.exchange, st, f.trades, f.risk, f.bus, logger)
	require.NoError(t, err)
	return f
}

func driftEvents(f *reconcilerFixture) chan events.Event {
	ch := make(chan events.Event, 4)
	f.bus.Subscribe(events.EventDriftDetected, func(e events.Event) { ch <- e })
	return ch
}

func awaitDrift(t *testing.T, ch chan events.Event) events.Drift {
	t.Helper()
	select {
	case e := <-ch:
		d, ok := e.Data.(events.Drift)
		require.True(t, ok)
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drift event")
		return events.Drift{}
	}
}

func TestPassAdoptsUnknownExchangePosition(t *testing.T) {
	f := newReconcilerFixture(t)
	drifts := driftEvents(f)
	f.exchange.positions = []*ports.ExchangePosition{{
		Symbol:           "ETHUSDT",
		PositionAmt:      0.5,
		EntryPrice:       2000,
		UnRealizedProfit: 3.5,
		Leverage:         4,
		PositionSide:     "LONG",
	}}

	f.rec.Pass(context.Background())

	pos, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.True(t, pos.Drift)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.InDelta(t, 0.5, pos.Size, 1e-9)
	assert.InDelta(t, 2000.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 3.5, pos.UnrealizedPnL, 1e-9)

	d := awaitDrift(t, drifts)
	assert.Equal(t, "adopted", d.Kind)
	assert.Equal(t, "ETHUSDT", d.Symbol)
	assert.False(t, pos.Protected())
}

func TestPassAdoptRecordsRestingProtection(t *testing.T) {
	f := newReconcilerFixture(t)
	f.exchange.positions = []*ports.ExchangePosition{{
		Symbol:       "ETHUSDT",
		PositionAmt:  0.5,
		EntryPrice:   2000,
		Leverage:     4,
		PositionSide: "LONG",
	}}
	f.exchange.openOrders = []*ports.OrderResponse{
		{OrderID: 11, Type: "STOP_MARKET", StopPrice: 1900, Status: "NEW"},
		{OrderID: 12, Type: "TAKE_PROFIT_MARKET", StopPrice: 2200, Status: "NEW"},
		{OrderID: 13, Type: "LIMIT", Price: 2100, Status: "NEW"},
	}

	f.rec.Pass(context.Background())

	pos, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.True(t, pos.Protected())
	assert.InDelta(t, 1900.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 2200.0, pos.TakeProfit, 1e-9)
	require.NotNil(t, pos.StopLossOrderID)
	assert.EqualValues(t, 11, *pos.StopLossOrderID)
	require.NotNil(t, pos.TakeProfitOrderID)
	assert.EqualValues(t, 12, *pos.TakeProfitOrderID)
}

func TestPassAdoptsShortFromNegativeAmount(t *testing.T) {
	f := newReconcilerFixture(t)
	f.exchange.positions = []*ports.ExchangePosition{{
		Symbol:      "BTCUSDT",
		PositionAmt: -0.25,
		EntryPrice:  60000,
		Leverage:    2,
	}}

	f.rec.Pass(context.Background())

	pos, ok := f.store.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.InDelta(t, 0.25, pos.Size, 1e-9)
}

func TestPassRetiresVanishedPosition(t *testing.T) {
	f := newReconcilerFixture(t)
	drifts := driftEvents(f)
	closed := make(chan events.Event, 1)
	f.bus.Subscribe(events.EventTradeClosed, func(e events.Event) { closed <- e })

	require.NoError(t, f.store.Upsert(context.Background(), &domain.Position{
		Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 2000, Size: 0.5,
		EntryFee: 0.5, OpenedAt: time.Now().UTC().Add(-time.Hour),
	}))
	f.exchange.positions = nil // flat on the exchange
	f.exchange.markPrice = 2100

	f.rec.Pass(context.Background())

	_, ok := f.store.Get("ETHUSDT")
	assert.False(t, ok)

	require.Equal(t, 1, f.trades.count())
	trade := f.trades.trades[0]
	assert.Equal(t, domain.CloseReasonReconcile, trade.Reason)
	assert.InDelta(t, 2100.0, trade.ExitPrice, 1e-9)
	// PnL = (2100-2000)*0.5 - (0.5 + 2100*0.5*0.0005)
	assert.InDelta(t, 48.975, trade.PnL, 1e-9)

	d := awaitDrift(t, drifts)
	assert.Equal(t, "removed", d.Kind)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected a trade closed event for the synthesized trade")
	}
	assert.Equal(t, 1, f.risk.Stats().Trades)
}

func TestPassRefreshesUnrealizedPnL(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, f.store.Upsert(context.Background(), &domain.Position{
		Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 2000, Size: 0.5,
		OpenedAt: time.Now().UTC(),
	}))
	f.exchange.positions = []*ports.ExchangePosition{{
		Symbol:           "ETHUSDT",
		PositionAmt:      0.5,
		EntryPrice:       2000,
		UnRealizedProfit: 12.5,
		PositionSide:     "LONG",
	}}

	f.rec.Pass(context.Background())

	pos, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 12.5, pos.UnrealizedPnL, 1e-9)
	assert.False(t, pos.Drift)
	assert.InDelta(t, 0.5, pos.Size, 1e-9)
}

func TestPassAdoptsExchangeSizeOnMismatch(t *testing.T) {
	f := newReconcilerFixture(t)
	drifts := driftEvents(f)
	require.NoError(t, f.store.Upsert(context.Background(), &domain.Position{
		Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 2000, Size: 1.0,
		OpenedAt: time.Now().UTC(),
	}))
	f.exchange.positions = []*ports.ExchangePosition{{
		Symbol:       "ETHUSDT",
		PositionAmt:  0.4,
		EntryPrice:   1995,
		PositionSide: "LONG",
	}}

	f.rec.Pass(context.Background())

	pos, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.True(t, pos.Drift)
	assert.InDelta(t, 0.4, pos.Size, 1e-9)
	assert.InDelta(t, 1995.0, pos.EntryPrice, 1e-9)

	d := awaitDrift(t, drifts)
	assert.Equal(t, "resized", d.Kind)
	assert.InDelta(t, 1.0, d.LocalSize, 1e-9)
	assert.InDelta(t, 0.4, d.ExchangeSize, 1e-9)
}

func TestPassSkipsWhenExchangeUnavailable(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, f.store.Upsert(context.Background(), &domain.Position{
		Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 2000, Size: 0.5,
		OpenedAt: time.Now().UTC(),
	}))
	f.exchange.positionsErr = ports.ErrExchangeUnavailable

	f.rec.Pass(context.Background())

	// Nothing is touched on a failed pass; the next one retries.
	pos, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.5, pos.Size, 1e-9)
	assert.Zero(t, f.trades.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.rec.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on context cancellation")
	}
}
