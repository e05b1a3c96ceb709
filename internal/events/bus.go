package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Risk engine
	EventCircuitBreakerTriggered EventType = "CIRCUIT_BREAKER_TRIGGERED"
	EventCircuitBreakerReset     EventType = "CIRCUIT_BREAKER_RESET"
	EventEmergencyStop           EventType = "EMERGENCY_STOP"
	EventEmergencyStopReset      EventType = "EMERGENCY_STOP_RESET"
	EventSystemDisabled          EventType = "SYSTEM_DISABLED"
	EventSystemEnabled           EventType = "SYSTEM_ENABLED"
	EventDrawdownAlert           EventType = "DRAWDOWN_ALERT"
	EventConsecutiveLosses       EventType = "CONSECUTIVE_LOSSES"
	EventDailyRollover           EventType = "DAILY_ROLLOVER"
	EventAdmissionRejected       EventType = "ADMISSION_REJECTED"
	EventBalanceUpdate           EventType = "BALANCE_UPDATE"

	// Strategy coordinator
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventStrategyFailed  EventType = "STRATEGY_FAILED"
	EventStrategyToggled EventType = "STRATEGY_TOGGLED"
	EventWeightsUpdated  EventType = "WEIGHTS_UPDATED"

	// Order lifecycle
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderFailed    EventType = "ORDER_FAILED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventExitFilled     EventType = "EXIT_FILLED"
	EventExitFailed     EventType = "EXIT_FAILED"

	EventBotStarted EventType = "BOT_STARTED"
	EventBotStopped EventType = "BOT_STOPPED"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// String returns a data field as a string, or "" when absent
func (e Event) String(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// Float returns a data field as a float64, or 0 when absent
func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus delivers each published event synchronously to every subscriber,
// in subscription order, exactly once. Type subscribers run before
// all-event subscribers. A panicking subscriber is recovered and logged.
// Publishers must not hold their own locks while calling Publish.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	logger      zerolog.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
		logger:      logger.With().Str("component", "events").Logger(),
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

// Publish sends an event to all subscribers. It is safe to call on a nil bus.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	// Snapshot so subscribers may subscribe/publish re-entrantly.
	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.subscribers[event.Type])+len(eb.allSubs))
	subs = append(subs, eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.deliver(sub, event)
	}
}

func (eb *EventBus) deliver(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	sub(event)
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(eventType EventType, source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: eventType, Data: data})
}
