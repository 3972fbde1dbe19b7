package events

import (
	"sync"
	"time"

	"cryptoMultiBot/internal/domain"
)

// EventType represents the different types of events in the system.
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalUpdated   EventType = "SIGNAL_UPDATED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventPositionUpdate  EventType = "POSITION_UPDATE"
	EventDriftDetected   EventType = "DRIFT_DETECTED"
	EventStrategyStarted EventType = "STRATEGY_STARTED"
	EventStrategyStopped EventType = "STRATEGY_STOPPED"
	EventError           EventType = "ERROR"
)

// Event is a single system event. Data carries the typed payload for the
// event type: *domain.Signal, *domain.Position, *domain.Trade, Drift,
// StrategyChange or ErrorInfo.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Drift is the payload of a DRIFT_DETECTED event.
type Drift struct {
	Symbol       string  `json:"symbol"`
	Kind         string  `json:"kind"` // "adopted", "removed" or "resized"
	LocalSize    float64 `json:"local_size"`
	ExchangeSize float64 `json:"exchange_size"`
}

// StrategyChange is the payload of strategy lifecycle events.
type StrategyChange struct {
	Symbol string      `json:"symbol"`
	Mode   domain.Mode `json:"mode,omitempty"`
}

// ErrorInfo is the payload of an ERROR event.
type ErrorInfo struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Err     string `json:"error,omitempty"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions. Publishing never blocks
// the caller: each subscriber is notified on its own goroutine, so the tick
// loop never waits on a downstream consumer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event.
func (b *Bus) PublishSignal(sig *domain.Signal) {
	b.Publish(Event{Type: EventSignalGenerated, Data: sig})
}

// PublishSignalUpdate publishes a signal status transition.
func (b *Bus) PublishSignalUpdate(sig *domain.Signal) {
	b.Publish(Event{Type: EventSignalUpdated, Data: sig})
}

// PublishTradeOpened publishes the position created by a filled entry.
func (b *Bus) PublishTradeOpened(pos *domain.Position) {
	b.Publish(Event{Type: EventTradeOpened, Data: pos})
}

// PublishTradeClosed publishes the trade produced by a closed position.
func (b *Bus) PublishTradeClosed(trade *domain.Trade) {
	b.Publish(Event{Type: EventTradeClosed, Data: trade})
}

// PublishPositionUpdate publishes refreshed position state (size, PnL).
func (b *Bus) PublishPositionUpdate(pos *domain.Position) {
	b.Publish(Event{Type: EventPositionUpdate, Data: pos})
}

// PublishDrift publishes a local/exchange position mismatch.
func (b *Bus) PublishDrift(d Drift) {
	b.Publish(Event{Type: EventDriftDetected, Data: d})
}

// PublishStrategyStarted publishes a strategy lifecycle start.
func (b *Bus) PublishStrategyStarted(symbol string, mode domain.Mode) {
	b.Publish(Event{Type: EventStrategyStarted, Data: StrategyChange{Symbol: symbol, Mode: mode}})
}

// PublishStrategyStopped publishes a strategy lifecycle stop.
func (b *Bus) PublishStrategyStopped(symbol string) {
	b.Publish(Event{Type: EventStrategyStopped, Data: StrategyChange{Symbol: symbol}})
}

// PublishError publishes a component error event.
func (b *Bus) PublishError(source, message string, err error) {
	info := ErrorInfo{Source: source, Message: message}
	if err != nil {
		info.Err = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: info})
}
