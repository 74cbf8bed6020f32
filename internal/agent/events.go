package agent

import (
	"sync"
	"time"
)

// EventType represents the type of loop event.
type EventType string

const (
	EventRunStart       EventType = "run_start"
	EventStepStart      EventType = "step_start"
	EventStepEnd        EventType = "step_end"
	EventModelResponse  EventType = "model_response"
	EventToolCallStart  EventType = "tool_call_start"
	EventToolCallEnd    EventType = "tool_call_end"
	EventGuardViolation EventType = "guard_violation"
	EventMemoryWritten  EventType = "memory_written"
	EventRunComplete    EventType = "run_complete"
	EventRunError       EventType = "run_error"
)

// Event represents a loop event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	SessionID string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus manages event publication and subscription. Pollers and UIs
// observe run progress through it without coupling to the loop.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if handlers, ok := eb.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, runID, sessionID string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:      eventType,
		RunID:     runID,
		SessionID: sessionID,
		Data:      data,
	})
}
