// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventBus distributes scan lifecycle events to subscribers.
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger,
	}
}

// Start starts the event bus distribution loop
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}
}

// Emit builds and publishes an event. Implements service.EventSink.
func (eb *EventBus) Emit(eventType, source string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.events <- event:
	default:
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", event.Type),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type. The wildcard "*"
// receives every event.
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// Unsubscribe removes a subscriber channel and closes it. Safe to call for
// a channel that was already removed.
func (eb *EventBus) Unsubscribe(eventType string, ch <-chan Event) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subs := eb.subscribers[eventType]
	for i, s := range subs {
		if (<-chan Event)(s) == ch {
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(s)
			return
		}
	}
}

// distributeEvent distributes an event to subscribers. The lock is held
// across the sends so Unsubscribe cannot close a channel mid-distribution;
// the sends are non-blocking, so the lock is never held for long.
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	subscribers := append([]chan Event{}, eb.subscribers[event.Type]...)
	subscribers = append(subscribers, eb.subscribers["*"]...)

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
