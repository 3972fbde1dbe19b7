package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/events"
	"cryptoMultiBot/internal/ports"
	"cryptoMultiBot/internal/store"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) With(fields map[string]interface{}) ports.Logger { return m }

type mockTradeRepo struct {
	trades []*domain.Trade
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	if limit > len(m.trades) {
		limit = len(m.trades)
	}
	// Newest first, like the real repository
	out := make([]*domain.Trade, 0, limit)
	for i := len(m.trades) - 1; i >= len(m.trades)-limit; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

func (m *mockTradeRepo) GetTotalPnL(ctx context.Context) (float64, error) {
	var total float64
	for _, tr := range m.trades {
		total += tr.PnL
	}
	return total, nil
}

type mockSignalRepo struct {
	signals []*domain.Signal
}

func (m *mockSignalRepo) CreateSignal(ctx context.Context, sig *domain.Signal) error {
	m.signals = append(m.signals, sig)
	return nil
}

func (m *mockSignalRepo) UpdateStatus(ctx context.Context, id string, status domain.SignalStatus) error {
	return nil
}

func (m *mockSignalRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Signal, error) {
	if limit > len(m.signals) {
		limit = len(m.signals)
	}
	out := make([]*domain.Signal, 0, limit)
	for i := len(m.signals) - 1; i >= len(m.signals)-limit; i-- {
		out = append(out, m.signals[i])
	}
	return out, nil
}

type fixture struct {
	store *store.Store
	bus   *events.Bus
	agg   *Aggregator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := &mockLogger{}
	st, err := store.NewStore(store.Config{Logger: logger})
	require.NoError(t, err)

	bus := events.NewBus()
	agg, err := NewAggregator(cfg, st, bus, logger)
	require.NoError(t, err)
	return &fixture{store: st, bus: bus, agg: agg}
}

func closedTrade(symbol string, pnl, fees float64) *domain.Trade {
	return &domain.Trade{
		Symbol:     symbol,
		Side:       domain.SideLong,
		EntryPrice: 2000,
		ExitPrice:  2000 + pnl,
		Size:       1,
		Leverage:   4,
		PnL:        pnl,
		Fees:       fees,
		Reason:     domain.CloseReasonStrategy,
		EntryTime:  time.Now().UTC().Add(-time.Hour),
		ExitTime:   time.Now().UTC(),
	}
}

func TestSnapshotStartsEmpty(t *testing.T) {
	f := newFixture(t, Config{})

	snap := f.agg.Snapshot()
	assert.Empty(t, snap.Signals)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Trades)
	assert.Zero(t, snap.Statistics.TotalTrades)
	assert.Zero(t, snap.Statistics.WinRate)
}

func TestTradeClosedUpdatesStatistics(t *testing.T) {
	f := newFixture(t, Config{})

	f.bus.PublishTradeClosed(closedTrade("ETHUSDT", 10.0, 1.0))
	f.bus.PublishTradeClosed(closedTrade("ETHUSDT", 30.0, 1.5))
	f.bus.PublishTradeClosed(closedTrade("BTCUSDT", -20.0, 2.0))

	require.Eventually(t, func() bool {
		return f.agg.Statistics().TotalTrades == 3
	}, time.Second, 10*time.Millisecond)

	stats := f.agg.Statistics()
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 20.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 4.5, stats.TotalFees, 1e-9)
	assert.InDelta(t, 20.0, stats.AverageWin, 1e-9)
	assert.InDelta(t, -20.0, stats.AverageLoss, 1e-9)
	assert.InDelta(t, 2.0, stats.ProfitFactor, 1e-9)
}

func TestSignalStatusUpdateReplacesBufferedCopy(t *testing.T) {
	f := newFixture(t, Config{})

	sig := &domain.Signal{
		ID: "sig-1", Timestamp: time.Now().UTC(), Symbol: "ETHUSDT",
		Action: domain.ActionOpenLong, Price: 2000, Status: domain.SignalPending,
	}
	f.bus.PublishSignal(sig)

	require.Eventually(t, func() bool {
		return len(f.agg.Snapshot().Signals) == 1
	}, time.Second, 10*time.Millisecond)

	updated := *sig
	updated.Status = domain.SignalExecuted
	f.bus.PublishSignalUpdate(&updated)

	require.Eventually(t, func() bool {
		snap := f.agg.Snapshot()
		return len(snap.Signals) == 1 && snap.Signals[0].Status == domain.SignalExecuted
	}, time.Second, 10*time.Millisecond)
}

func TestSignalUpdateArrivingFirstIsKept(t *testing.T) {
	f := newFixture(t, Config{})

	// Async dispatch can deliver the status update before the emission; the
	// update alone must still land in the buffer.
	f.bus.PublishSignalUpdate(&domain.Signal{
		ID: "sig-9", Timestamp: time.Now().UTC(), Symbol: "ETHUSDT",
		Action: domain.ActionCloseLong, Price: 2100, Status: domain.SignalFailed,
	})

	require.Eventually(t, func() bool {
		snap := f.agg.Snapshot()
		return len(snap.Signals) == 1 && snap.Signals[0].Status == domain.SignalFailed
	}, time.Second, 10*time.Millisecond)
}

func TestTradeHistoryTrimsOldest(t *testing.T) {
	f := newFixture(t, Config{TradeHistory: 2, SignalHistory: 2})

	f.bus.PublishTradeClosed(closedTrade("AAAUSDT", 1.0, 0.1))
	f.bus.PublishTradeClosed(closedTrade("BBBUSDT", 2.0, 0.1))
	f.bus.PublishTradeClosed(closedTrade("CCCUSDT", 3.0, 0.1))

	require.Eventually(t, func() bool {
		return f.agg.Statistics().TotalTrades == 3
	}, time.Second, 10*time.Millisecond)

	snap := f.agg.Snapshot()
	// Buffer keeps the newest two, statistics still count all three
	require.Len(t, snap.Trades, 2)
	symbols := []string{snap.Trades[0].Symbol, snap.Trades[1].Symbol}
	assert.NotContains(t, symbols, "AAAUSDT")
	assert.Equal(t, 3, snap.Statistics.TotalTrades)
}

func TestSnapshotIncludesLivePositions(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.store.Upsert(context.Background(), &domain.Position{
		Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: 2000, Size: 0.5,
		OpenedAt: time.Now().UTC(),
	}))

	snap := f.agg.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "ETHUSDT", snap.Positions[0].Symbol)

	// Clearing history never touches live positions
	f.agg.Clear()
	snap = f.agg.Snapshot()
	assert.Len(t, snap.Positions, 1)
}

func TestClearKeepsStatistics(t *testing.T) {
	f := newFixture(t, Config{})

	f.bus.PublishTradeClosed(closedTrade("ETHUSDT", 10.0, 1.0))
	require.Eventually(t, func() bool {
		return f.agg.Statistics().TotalTrades == 1
	}, time.Second, 10*time.Millisecond)

	f.agg.Clear()
	snap := f.agg.Snapshot()
	assert.Empty(t, snap.Trades)
	assert.Empty(t, snap.Signals)
	assert.Equal(t, 1, snap.Statistics.TotalTrades)
}

func TestResetZeroesStatistics(t *testing.T) {
	f := newFixture(t, Config{})

	f.bus.PublishTradeClosed(closedTrade("ETHUSDT", 10.0, 1.0))
	require.Eventually(t, func() bool {
		return f.agg.Statistics().TotalTrades == 1
	}, time.Second, 10*time.Millisecond)

	f.agg.Reset()
	stats := f.agg.Statistics()
	assert.Zero(t, stats.TotalTrades)
	assert.Zero(t, stats.TotalPnL)
	assert.Zero(t, stats.WinRate)
}

func TestHydratePreloadsHistory(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	trades := &mockTradeRepo{}
	_, err := trades.CreateTrade(ctx, closedTrade("ETHUSDT", 10.0, 1.0))
	require.NoError(t, err)
	_, err = trades.CreateTrade(ctx, closedTrade("BTCUSDT", -5.0, 1.0))
	require.NoError(t, err)

	signals := &mockSignalRepo{}
	require.NoError(t, signals.CreateSignal(ctx, &domain.Signal{
		ID: "sig-1", Timestamp: time.Now().UTC().Add(-time.Minute), Symbol: "ETHUSDT",
		Action: domain.ActionOpenLong, Price: 2000, Status: domain.SignalExecuted,
	}))
	require.NoError(t, signals.CreateSignal(ctx, &domain.Signal{
		ID: "sig-2", Timestamp: time.Now().UTC(), Symbol: "ETHUSDT",
		Action: domain.ActionCloseLong, Price: 2010, Status: domain.SignalExecuted,
	}))

	require.NoError(t, f.agg.Hydrate(ctx, trades, signals))

	snap := f.agg.Snapshot()
	require.Len(t, snap.Trades, 2)
	// Newest first after hydration
	assert.Equal(t, "BTCUSDT", snap.Trades[0].Symbol)
	require.Len(t, snap.Signals, 2)
	assert.Equal(t, "sig-2", snap.Signals[0].ID)

	stats := snap.Statistics
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 5.0, stats.TotalPnL, 1e-9)
}

func TestHydrateWithoutRepositories(t *testing.T) {
	f := newFixture(t, Config{})
	assert.NoError(t, f.agg.Hydrate(context.Background(), nil, nil))
}
