package events

import (
	"sync"
	"time"

	"futures-agent/internal/trading"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventAgentStarted    EventType = "AGENT_STARTED"
	EventAgentStopped    EventType = "AGENT_STOPPED"
	EventCycleCompleted  EventType = "CYCLE_COMPLETED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventCircuitBreaker  EventType = "CIRCUIT_BREAKER_UPDATE"
	EventBlacklisted     EventType = "SYMBOL_BLACKLISTED"
	EventCloseAll        EventType = "CLOSE_ALL"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus discards events.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTrade publishes a fill or a failed submission
func (eb *EventBus) PublishTrade(rec trading.TradeRecord) {
	eventType := EventOrderFilled
	if rec.Status != trading.TradeFilled && rec.Status != trading.TradeAlreadyClosed {
		eventType = EventOrderFailed
	}
	eb.Publish(Event{
		Type:      eventType,
		Timestamp: rec.Timestamp,
		Data: map[string]interface{}{
			"symbol":          rec.Symbol,
			"side":            string(rec.Side),
			"quantity":        rec.Quantity,
			"price":           rec.Price,
			"reason":          string(rec.Reason),
			"status":          rec.Status,
			"client_order_id": rec.ClientOrderID,
			"reduce_only":     rec.ReduceOnly,
			"realized_pnl":    rec.RealizedPnL,
			"attempts":        rec.Attempts,
		},
	})
}

// PublishPositionClosed publishes a position leaving the book
func (eb *EventBus) PublishPositionClosed(symbol string, reason trading.ReasonCode, realizedPnL float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"reason":       string(reason),
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(intent trading.ActionIntent) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":      intent.Symbol,
			"side":        string(intent.Side),
			"reason":      string(intent.Reason),
			"score":       intent.Score,
			"quantity":    intent.Quantity,
			"price":       intent.RefPrice,
			"reduce_only": intent.ReduceOnly,
		},
	})
}

// PublishCycle publishes the end-of-cycle record
func (eb *EventBus) PublishCycle(rec trading.CycleRecord) {
	eb.Publish(Event{
		Type:      EventCycleCompleted,
		Timestamp: rec.Timestamp,
		Data: map[string]interface{}{
			"cycle":             rec.Cycle,
			"balance":           rec.Balance,
			"available_balance": rec.AvailableBalance,
			"open_pnl":          rec.OpenPnL,
			"positions":         rec.PositionCount,
			"sentiment":         rec.Sentiment,
			"realized_pnl":      rec.RealizedPnL,
			"drawdown":          rec.Drawdown,
			"halted":            rec.Halted,
		},
	})
}

// PublishCircuitBreaker publishes a breaker trip or reset
func (eb *EventBus) PublishCircuitBreaker(action, reason string, drawdown float64) {
	eb.Publish(Event{
		Type: EventCircuitBreaker,
		Data: map[string]interface{}{
			"action":   action,
			"reason":   reason,
			"drawdown": drawdown,
		},
	})
}

// PublishBlacklisted publishes a symbol exclusion
func (eb *EventBus) PublishBlacklisted(symbol, reason string) {
	eb.Publish(Event{
		Type: EventBlacklisted,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishCloseAll publishes the result of a liquidation sweep
func (eb *EventBus) PublishCloseAll(trigger string, closed, failed int) {
	eb.Publish(Event{
		Type: EventCloseAll,
		Data: map[string]interface{}{
			"trigger": trigger,
			"closed":  closed,
			"failed":  failed,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
