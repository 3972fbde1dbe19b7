package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/store"
)

// Mock implementations

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) With(fields map[string]interface{}) ports.Logger { return m }

type marketCall struct {
	symbol       string
	side         domain.OrderSide
	positionSide domain.Side
	quantity     string
	reduceOnly   bool
}

type legCall struct {
	symbol       string
	side         domain.OrderSide
	positionSide domain.Side
	quantity     string
	stopPrice    string
}

type mockExchange struct {
	fillPrice    float64
	nextOrderID  int64
	orderErrors  map[string]error
	failuresLeft map[string]int // transient failures injected before a key succeeds
	cancelErrors map[int64]error

	marketCalls []marketCall
	stopCalls   []legCall
	tpCalls     []legCall
	cancelled   []int64
}

func newMockExchange(fillPrice float64) *mockExchange {
	return &mockExchange{
		fillPrice:    fillPrice,
		orderErrors:  make(map[string]error),
		failuresLeft: make(map[string]int),
		cancelErrors: make(map[int64]error),
	}
}

func (m *mockExchange) respond() *ports.OrderResponse {
	m.nextOrderID++
	return &ports.OrderResponse{OrderID: m.nextOrderID, AvgPrice: m.fillPrice, Status: "FILLED"}
}

func (m *mockExchange) orderErr(key string) error {
	if n := m.failuresLeft[key]; n > 0 {
		m.failuresLeft[key] = n - 1
		return fmt.Errorf("%w: injected failure", ports.ErrExchangeUnavailable)
	}
	return m.orderErrors[key]
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, positionSide domain.Side, quantity string, reduceOnly bool) (*ports.OrderResponse, error) {
	m.marketCalls = append(m.marketCalls, marketCall{symbol, side, positionSide, quantity, reduceOnly})
	if err := m.orderErr("market_" + string(side)); err != nil {
		return nil, err
	}
	return m.respond(), nil
}

func (m *mockExchange) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, positionSide domain.Side, quantity, stopPrice string) (*ports.OrderResponse, error) {
	m.stopCalls = append(m.stopCalls, legCall{symbol, side, positionSide, quantity, stopPrice})
	if err := m.orderErr("stop_" + string(side)); err != nil {
		return nil, err
	}
	return m.respond(), nil
}

func (m *mockExchange) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, positionSide domain.Side, quantity, stopPrice string) (*ports.OrderResponse, error) {
	m.tpCalls = append(m.tpCalls, legCall{symbol, side, positionSide, quantity, stopPrice})
	if err := m.orderErr("tp_" + string(side)); err != nil {
		return nil, err
	}
	return m.respond(), nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.cancelled = append(m.cancelled, orderID)
	return m.cancelErrors[orderID]
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*ports.OrderResponse, error) {
	return nil, nil
}

func (m *mockExchange) GetPositions(ctx context.Context) ([]*ports.ExchangePosition, error) {
	return nil, nil
}

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return m.fillPrice, nil
}

func (m *mockExchange) GetAccountBalance(ctx context.Context) (float64, error) {
	return 1000.0, nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *mockExchange) Ping(ctx context.Context) error { return nil }

func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }

type mockTradeRepo struct {
	trades    []*domain.Trade
	createErr error
	nextID    int64
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	m.trades = append(m.trades, trade)
	return m.nextID, nil
}

func (m *mockTradeRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return m.trades, nil
}

func (m *mockTradeRepo) GetTotalPnL(ctx context.Context) (float64, error) {
	var total float64
	for _, tr := range m.trades {
		total += tr.PnL
	}
	return total, nil
}

// Test harness

type fixture struct {
	exchange *mockExchange
	trades   *mockTradeRepo
	bus      *events.Bus
	store    *store.Store
	exec     *Executor
}

func newFixture(t *testing.T, fillPrice float64) *fixture {
	t.Helper()
	logger := &mockLogger{}
	st, err := store.NewStore(store.Config{Logger: logger})
	require.NoError(t, err)

	f := &fixture{
		exchange: newMockExchange(fillPrice),
		trades:   &mockTradeRepo{},
		bus:      events.NewBus(),
		store:    st,
	}
	f.exec, err = NewExecutor(Config{
		Leverage:        4,
		TakerFeeRate:    0.0005,
		MaxOrderRetries: 2,
		RetryBackoffMin: time.Millisecond,
		RetryBackoffMax: 2 * time.Millisecond,
		CallTimeout:     time.Second,
	}, f.exchange, st, f.trades, f.bus, logger)
	require.NoError(t, err)
	return f
}

func (f *fixture) seedPosition(t *testing.T, pos *domain.Position) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), pos))
}

func ptrInt64(v int64) *int64 { return &v }

func awaitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestOpenLongPlacesEntryAndLegs(t *testing.T) {
	f := newFixture(t, 2000)
	opened := make(chan events.Event, 1)
	f.bus.Subscribe(events.EventTradeOpened, func(e events.Event) { opened <- e })

	pos, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 1990, 1960, 2080)
	require.NoError(t, err)
	require.NotNil(t, pos)

	require.Len(t, f.exchange.marketCalls, 1)
	entry := f.exchange.marketCalls[0]
	assert.Equal(t, "ETHUSDT", entry.symbol)
	assert.Equal(t, domain.Buy, entry.side)
	assert.Equal(t, domain.SideLong, entry.positionSide)
	assert.Equal(t, "0.500", entry.quantity)
	assert.False(t, entry.reduceOnly)

	require.Len(t, f.exchange.stopCalls, 1)
	assert.Equal(t, domain.Sell, f.exchange.stopCalls[0].side)
	assert.Equal(t, domain.SideLong, f.exchange.stopCalls[0].positionSide)
	assert.Equal(t, "1960.00", f.exchange.stopCalls[0].stopPrice)

	require.Len(t, f.exchange.tpCalls, 1)
	assert.Equal(t, domain.Sell, f.exchange.tpCalls[0].side)
	assert.Equal(t, "2080.00", f.exchange.tpCalls[0].stopPrice)

	assert.Equal(t, domain.SideLong, pos.Side)
	assert.InDelta(t, 2000.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 0.5, pos.Size, 1e-9)
	assert.Equal(t, 4, pos.Leverage)
	assert.InDelta(t, 0.5, pos.EntryFee, 1e-9) // 2000 * 0.5 * 0.0005
	require.NotNil(t, pos.StopLossOrderID)
	require.NotNil(t, pos.TakeProfitOrderID)

	stored, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 2000.0, stored.EntryPrice, 1e-9)

	e := awaitEvent(t, opened)
	assert.Equal(t, events.EventTradeOpened, e.Type)
}

func TestOpenShortUsesOppositeLegs(t *testing.T) {
	f := newFixture(t, 2000)

	pos, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideShort, 1, 2000, 2040, 1920)
	require.NoError(t, err)

	require.Len(t, f.exchange.marketCalls, 1)
	assert.Equal(t, domain.Sell, f.exchange.marketCalls[0].side)
	assert.Equal(t, domain.SideShort, f.exchange.marketCalls[0].positionSide)

	require.Len(t, f.exchange.stopCalls, 1)
	assert.Equal(t, domain.Buy, f.exchange.stopCalls[0].side)
	assert.Equal(t, "2040.00", f.exchange.stopCalls[0].stopPrice)

	require.Len(t, f.exchange.tpCalls, 1)
	assert.Equal(t, domain.Buy, f.exchange.tpCalls[0].side)
	assert.Equal(t, "1920.00", f.exchange.tpCalls[0].stopPrice)

	assert.Equal(t, domain.SideShort, pos.Side)
}

func TestOpenFallsBackToDecisionPrice(t *testing.T) {
	f := newFixture(t, 0) // exchange reports no fill price

	pos, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 1990, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1990.0, pos.EntryPrice, 1e-9)

	// Zero levels disable the protective legs entirely.
	assert.Empty(t, f.exchange.stopCalls)
	assert.Empty(t, f.exchange.tpCalls)
	assert.Nil(t, pos.StopLossOrderID)
	assert.Nil(t, pos.TakeProfitOrderID)
}

func TestOpenRejectsDuplicatePosition(t *testing.T) {
	f := newFixture(t, 2000)
	f.seedPosition(t, &domain.Position{Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 1900, Size: 1})

	_, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 2000, 0, 0)
	assert.ErrorIs(t, err, ports.ErrPositionExists)
	assert.Empty(t, f.exchange.marketCalls)
}

func TestOpenEntryRejectionNotRetried(t *testing.T) {
	f := newFixture(t, 2000)
	f.exchange.orderErrors["market_BUY"] = fmt.Errorf("%w: margin is insufficient", ports.ErrInsufficientFunds)

	_, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 2000, 0, 0)
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Len(t, f.exchange.marketCalls, 1)

	_, ok := f.store.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestOpenRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, 2000)
	f.exchange.failuresLeft["market_BUY"] = 2 // fail twice, then succeed

	pos, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 2000, 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, pos)
	assert.Len(t, f.exchange.marketCalls, 3)
}

func TestOpenTransientFailuresExhaustRetries(t *testing.T) {
	f := newFixture(t, 2000)
	f.exchange.failuresLeft["market_BUY"] = 10

	_, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 2000, 0, 0)
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Len(t, f.exchange.marketCalls, 3) // initial attempt + 2 retries

	_, ok := f.store.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestOpenStopLegFailureKeepsPosition(t *testing.T) {
	f := newFixture(t, 2000)
	f.exchange.orderErrors["stop_SELL"] = fmt.Errorf("%w: would trigger immediately", ports.ErrExchangeRejected)
	errCh := make(chan events.Event, 1)
	f.bus.Subscribe(events.EventError, func(e events.Event) { errCh <- e })

	pos, err := f.exec.Open(context.Background(), "ETHUSDT", domain.SideLong, 0.5, 2000, 1960, 2080)
	require.NoError(t, err)

	assert.Nil(t, pos.StopLossOrderID)
	require.NotNil(t, pos.TakeProfitOrderID)

	stored, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.Nil(t, stored.StopLossOrderID)
	assert.False(t, stored.Protected())

	e := awaitEvent(t, errCh)
	info, ok := e.Data.(events.ErrorInfo)
	require.True(t, ok)
	assert.Equal(t, "executor", info.Source)
}

func TestCloseLongRealizesPnL(t *testing.T) {
	f := newFixture(t, 2100)
	f.seedPosition(t, &domain.Position{
		Symbol:            "ETHUSDT",
		Side:              domain.SideLong,
		EntryPrice:        2000,
		Size:              0.5,
		Leverage:          4,
		EntryFee:          0.5,
		OpenedAt:          time.Now().UTC().Add(-time.Hour),
		StopLossOrderID:   ptrInt64(11),
		TakeProfitOrderID: ptrInt64(12),
	})
	closed := make(chan events.Event, 1)
	f.bus.Subscribe(events.EventTradeClosed, func(e events.Event) { closed <- e })

	trade, err := f.exec.Close(context.Background(), "ETHUSDT", 2095, domain.CloseReasonTakeProfit)
	require.NoError(t, err)
	require.NotNil(t, trade)

	require.Len(t, f.exchange.marketCalls, 1)
	closeOrder := f.exchange.marketCalls[0]
	assert.Equal(t, domain.Sell, closeOrder.side)
	assert.Equal(t, domain.SideLong, closeOrder.positionSide)
	assert.Equal(t, "0.500", closeOrder.quantity)
	assert.True(t, closeOrder.reduceOnly)

	assert.ElementsMatch(t, []int64{11, 12}, f.exchange.cancelled)

	// PnL = (2100-2000)*0.5 - (0.5 + 2100*0.5*0.0005) = 50 - 1.025
	assert.InDelta(t, 48.975, trade.PnL, 1e-9)
	assert.InDelta(t, 4.8975, trade.PnLPercent, 1e-9)
	assert.InDelta(t, 1.025, trade.Fees, 1e-9)
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.Reason)
	assert.Equal(t, int64(1), trade.ID)
	require.Len(t, f.trades.trades, 1)

	_, ok := f.store.Get("ETHUSDT")
	assert.False(t, ok)

	e := awaitEvent(t, closed)
	got, ok := e.Data.(*domain.Trade)
	require.True(t, ok)
	assert.InDelta(t, 48.975, got.PnL, 1e-9)
}

func TestCloseShortRealizesPnL(t *testing.T) {
	f := newFixture(t, 1900)
	f.seedPosition(t, &domain.Position{
		Symbol:     "ETHUSDT",
		Side:       domain.SideShort,
		EntryPrice: 2000,
		Size:       1,
		EntryFee:   1.0,
		OpenedAt:   time.Now().UTC().Add(-time.Hour),
	})

	trade, err := f.exec.Close(context.Background(), "ETHUSDT", 1905, domain.CloseReasonStrategy)
	require.NoError(t, err)

	require.Len(t, f.exchange.marketCalls, 1)
	assert.Equal(t, domain.Buy, f.exchange.marketCalls[0].side)
	assert.Equal(t, domain.SideShort, f.exchange.marketCalls[0].positionSide)
	assert.True(t, f.exchange.marketCalls[0].reduceOnly)

	// PnL = (1900-2000)*1*(-1) - (1.0 + 1900*1*0.0005) = 100 - 1.95
	assert.InDelta(t, 98.05, trade.PnL, 1e-9)
	assert.InDelta(t, 4.9025, trade.PnLPercent, 1e-9)
}

func TestCloseWithoutPosition(t *testing.T) {
	f := newFixture(t, 2000)

	_, err := f.exec.Close(context.Background(), "ETHUSDT", 2000, domain.CloseReasonManual)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
	assert.Empty(t, f.exchange.marketCalls)
}

func TestCloseToleratesMissingProtectiveOrders(t *testing.T) {
	f := newFixture(t, 2100)
	f.seedPosition(t, &domain.Position{
		Symbol:            "ETHUSDT",
		Side:              domain.SideLong,
		EntryPrice:        2000,
		Size:              0.5,
		OpenedAt:          time.Now().UTC(),
		StopLossOrderID:   ptrInt64(11),
		TakeProfitOrderID: ptrInt64(12),
	})
	f.exchange.cancelErrors[11] = fmt.Errorf("%w: id 11", ports.ErrOrderNotFound)

	trade, err := f.exec.Close(context.Background(), "ETHUSDT", 2100, domain.CloseReasonStopLoss)
	require.NoError(t, err)
	assert.NotNil(t, trade)

	_, ok := f.store.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestCloseOrderFailureKeepsPosition(t *testing.T) {
	f := newFixture(t, 2100)
	f.seedPosition(t, &domain.Position{
		Symbol:     "ETHUSDT",
		Side:       domain.SideLong,
		EntryPrice: 2000,
		Size:       0.5,
		OpenedAt:   time.Now().UTC(),
	})
	f.exchange.orderErrors["market_SELL"] = fmt.Errorf("%w: maintenance", ports.ErrExchangeRejected)

	_, err := f.exec.Close(context.Background(), "ETHUSDT", 2100, domain.CloseReasonTakeProfit)
	require.Error(t, err)

	_, ok := f.store.Get("ETHUSDT")
	assert.True(t, ok)
	assert.Empty(t, f.trades.trades)
}

func TestReduceShrinksPosition(t *testing.T) {
	f := newFixture(t, 2000)
	f.seedPosition(t, &domain.Position{
		Symbol:            "ETHUSDT",
		Side:              domain.SideLong,
		EntryPrice:        2000,
		Size:              2,
		StopLoss:          1960,
		TakeProfit:        2080,
		OpenedAt:          time.Now().UTC(),
		StopLossOrderID:   ptrInt64(21),
		TakeProfitOrderID: ptrInt64(22),
	})

	pos, err := f.exec.Reduce(context.Background(), "ETHUSDT", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pos.Size, 1e-9)
	assert.InDelta(t, 0.5, pos.EntryFee, 1e-9) // partial exit fee: 2000 * 0.5 * 0.0005

	require.Len(t, f.exchange.marketCalls, 1)
	assert.Equal(t, "0.500", f.exchange.marketCalls[0].quantity)
	assert.True(t, f.exchange.marketCalls[0].reduceOnly)

	// Old legs replaced at the remaining size.
	assert.ElementsMatch(t, []int64{21, 22}, f.exchange.cancelled)
	require.Len(t, f.exchange.stopCalls, 1)
	assert.Equal(t, "1.500", f.exchange.stopCalls[0].quantity)
	require.Len(t, f.exchange.tpCalls, 1)
	assert.Equal(t, "1.500", f.exchange.tpCalls[0].quantity)

	// A partial close never produces a trade record.
	assert.Empty(t, f.trades.trades)

	stored, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1.5, stored.Size, 1e-9)
}

func TestReduceRejectsFullOrInvalidSize(t *testing.T) {
	f := newFixture(t, 2000)
	f.seedPosition(t, &domain.Position{Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 2000, Size: 2, OpenedAt: time.Now().UTC()})

	_, err := f.exec.Reduce(context.Background(), "ETHUSDT", 0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = f.exec.Reduce(context.Background(), "ETHUSDT", 2)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	assert.Empty(t, f.exchange.marketCalls)
}

func TestAdjustReplacesProtectiveLegs(t *testing.T) {
	f := newFixture(t, 2000)
	f.seedPosition(t, &domain.Position{
		Symbol:            "ETHUSDT",
		Side:              domain.SideLong,
		EntryPrice:        2000,
		Size:              1,
		StopLoss:          1960,
		TakeProfit:        2080,
		OpenedAt:          time.Now().UTC(),
		StopLossOrderID:   ptrInt64(31),
		TakeProfitOrderID: ptrInt64(32),
	})

	pos, err := f.exec.Adjust(context.Background(), "ETHUSDT", 1900, 2200)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{31, 32}, f.exchange.cancelled)
	require.Len(t, f.exchange.stopCalls, 1)
	assert.Equal(t, "1900.00", f.exchange.stopCalls[0].stopPrice)
	require.Len(t, f.exchange.tpCalls, 1)
	assert.Equal(t, "2200.00", f.exchange.tpCalls[0].stopPrice)

	assert.InDelta(t, 1900.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 2200.0, pos.TakeProfit, 1e-9)
	require.NotNil(t, pos.StopLossOrderID)
	require.NotNil(t, pos.TakeProfitOrderID)

	stored, ok := f.store.Get("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1900.0, stored.StopLoss, 1e-9)
}

func TestAdjustReportsLegFailure(t *testing.T) {
	f := newFixture(t, 2000)
	f.seedPosition(t, &domain.Position{
		Symbol:     "ETHUSDT",
		Side:       domain.SideLong,
		EntryPrice: 2000,
		Size:       1,
		OpenedAt:   time.Now().UTC(),
	})
	f.exchange.orderErrors["stop_SELL"] = fmt.Errorf("%w: would trigger immediately", ports.ErrExchangeRejected)

	pos, err := f.exec.Adjust(context.Background(), "ETHUSDT", 1900, 2200)
	assert.ErrorIs(t, err, ports.ErrProtectiveLegFailed)

	// The take-profit leg still went through; only the stop is missing.
	require.NotNil(t, pos)
	assert.Nil(t, pos.StopLossOrderID)
	assert.NotNil(t, pos.TakeProfitOrderID)
}

func TestAdjustWithoutPosition(t *testing.T) {
	f := newFixture(t, 2000)

	_, err := f.exec.Adjust(context.Background(), "ETHUSDT", 1900, 2200)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}
