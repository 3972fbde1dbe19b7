// Package redistate mirrors dashboard snapshots into Redis so external
// consumers (ops dashboards, other processes) can observe the bot without
// attaching to it. The mirror is write-only from the bot's side and optional:
// with no client configured, or while Redis is unreachable, the latest
// snapshot is retained in memory and publishing degrades to a local update
// until the connection recovers.
package redistate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptoMultiBot/internal/dashboard"
	"cryptoMultiBot/internal/domain"
	"cryptoMultiBot/internal/ports"
)

const (
	defaultKeyPrefix = "bot"

	// defaultTTL bounds how long mirrored keys outlive the last publish, so a
	// dead process leaves no stale state behind.
	defaultTTL = 5 * time.Minute

	pingTimeout = 2 * time.Second
)

// Config holds the mirror settings.
type Config struct {
	Client    *redis.Client // Optional. Nil runs the mirror in memory-only mode.
	KeyPrefix string        // Key namespace (default "bot")
	TTL       time.Duration // Expiry applied to every mirrored key (default 5m)
	Logger    ports.Logger
}

// Mirror publishes snapshots under "{prefix}:snapshot" plus one
// "{prefix}:position:{symbol}" key per open position. It keeps the most
// recent snapshot in memory as a fallback and tracks Redis availability.
type Mirror struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    ports.Logger

	available atomic.Bool

	mu          sync.RWMutex
	latest      *dashboard.Snapshot
	lastSymbols map[string]struct{}
}

// New creates a Mirror. A nil cfg.Client is valid and yields a memory-only
// mirror; an unreachable Redis is logged but not treated as a startup error.
func New(cfg Config) (*Mirror, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for redis mirror")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	m := &Mirror{
		client:      cfg.Client,
		keyPrefix:   cfg.KeyPrefix,
		ttl:         cfg.TTL,
		logger:      cfg.Logger.With(map[string]interface{}{"component": "redistate"}),
		lastSymbols: make(map[string]struct{}),
	}

	if m.client == nil {
		m.logger.Info(context.Background(), "No Redis client configured, mirror running in memory-only mode")
		return m, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.logger.Warn(ctx, "Redis unreachable at startup, mirror falling back to memory", map[string]interface{}{
			"error": err.Error(),
		})
		return m, nil
	}

	m.available.Store(true)
	m.logger.Info(ctx, "Redis mirror connected", map[string]interface{}{
		"keyPrefix": m.keyPrefix,
		"ttl":       m.ttl.String(),
	})
	return m, nil
}

// Publish mirrors the snapshot. The in-memory copy is updated first so Latest
// always serves the newest state, then the snapshot and one record per open
// position are written to Redis in a single pipeline. Keys for positions that
// closed since the previous publish are deleted eagerly rather than waiting
// for the TTL. A Redis failure is logged once and absorbed; the mirror keeps
// trying and recovers on the next successful publish.
func (m *Mirror) Publish(ctx context.Context, snap dashboard.Snapshot) error {
	op := "Publish"

	current := make(map[string]struct{}, len(snap.Positions))
	for _, pos := range snap.Positions {
		current[pos.Symbol] = struct{}{}
	}

	m.mu.Lock()
	m.latest = &snap
	var stale []string
	for symbol := range m.lastSymbols {
		if _, ok := current[symbol]; !ok {
			stale = append(stale, symbol)
		}
	}
	m.lastSymbols = current
	m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	data, err := json.Marshal(translateSnapshot(snap))
	if err != nil {
		return fmt.Errorf("%s: failed to marshal snapshot: %w", op, err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.snapshotKey(), data, m.ttl)
	for _, pos := range snap.Positions {
		posData, err := json.Marshal(translatePosition(pos))
		if err != nil {
			return fmt.Errorf("%s: failed to marshal position %s: %w", op, pos.Symbol, err)
		}
		pipe.Set(ctx, m.positionKey(pos.Symbol), posData, m.ttl)
	}
	// A delete lost to a failed pipeline is repaired by the TTL.
	for _, symbol := range stale {
		pipe.Del(ctx, m.positionKey(symbol))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		if m.available.Swap(false) {
			m.logger.Error(ctx, err, fmt.Sprintf("%s: Redis write failed, mirror falling back to memory", op))
		}
		return nil
	}
	if !m.available.Swap(true) {
		m.logger.Info(ctx, fmt.Sprintf("%s: Redis connection recovered", op))
	}
	return nil
}

// Latest returns the most recently published snapshot, whether or not it
// reached Redis.
func (m *Mirror) Latest() (dashboard.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return dashboard.Snapshot{}, false
	}
	return *m.latest, true
}

// Available reports whether the last Redis interaction succeeded. Always
// false in memory-only mode.
func (m *Mirror) Available() bool {
	return m.available.Load()
}

func (m *Mirror) snapshotKey() string {
	return m.keyPrefix + ":snapshot"
}

func (m *Mirror) positionKey(symbol string) string {
	return fmt.Sprintf("%s:position:%s", m.keyPrefix, symbol)
}

// --- Wire Records ---

// Wire structs are kept separate from the domain types so the published key
// casing stays stable for external readers regardless of domain refactors.

type snapshotRecord struct {
	Taken      time.Time            `json:"taken"`
	Signals    []signalRecord       `json:"signals"`
	Positions  []positionRecord     `json:"positions"`
	Trades     []tradeRecord        `json:"trades"`
	Statistics dashboard.Statistics `json:"statistics"`
}

type positionRecord struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"`
	Leverage      int       `json:"leverage"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	EntryFee      float64   `json:"entry_fee"`
	Drift         bool      `json:"drift,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

type signalRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Price     float64   `json:"price"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
}

type tradeRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Size       float64   `json:"size"`
	Leverage   int       `json:"leverage"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Fees       float64   `json:"fees"`
	Reason     string    `json:"close_reason"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
}

func translateSnapshot(snap dashboard.Snapshot) snapshotRecord {
	record := snapshotRecord{
		Taken:      snap.Taken,
		Signals:    make([]signalRecord, 0, len(snap.Signals)),
		Positions:  make([]positionRecord, 0, len(snap.Positions)),
		Trades:     make([]tradeRecord, 0, len(snap.Trades)),
		Statistics: snap.Statistics,
	}
	for _, sig := range snap.Signals {
		record.Signals = append(record.Signals, translateSignal(sig))
	}
	for _, pos := range snap.Positions {
		record.Positions = append(record.Positions, translatePosition(pos))
	}
	for _, t := range snap.Trades {
		record.Trades = append(record.Trades, translateTrade(t))
	}
	return record
}

func translatePosition(pos *domain.Position) positionRecord {
	return positionRecord{
		Symbol:        pos.Symbol,
		Side:          string(pos.Side),
		EntryPrice:    pos.EntryPrice,
		Size:          pos.Size,
		Leverage:      pos.Leverage,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		UnrealizedPnL: pos.UnrealizedPnL,
		EntryFee:      pos.EntryFee,
		Drift:         pos.Drift,
		OpenedAt:      pos.OpenedAt,
	}
}

func translateSignal(sig *domain.Signal) signalRecord {
	return signalRecord{
		ID:        sig.ID,
		Timestamp: sig.Timestamp,
		Symbol:    sig.Symbol,
		Action:    string(sig.Action),
		Price:     sig.Price,
		Reason:    sig.Reason,
		Status:    string(sig.Status),
	}
}

func translateTrade(t *domain.Trade) tradeRecord {
	return tradeRecord{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Size:       t.Size,
		Leverage:   t.Leverage,
		PnL:        t.PnL,
		PnLPercent: t.PnLPercent,
		Fees:       t.Fees,
		Reason:     string(t.Reason),
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
	}
}
