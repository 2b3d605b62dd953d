package service

import (
	"slices"
	"sync"

	"monview/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventRuleAdded           EventType = "rule_added"
	EventRuleDeleted         EventType = "rule_deleted"
	EventMetricAdded         EventType = "metric_added"
	EventMetricDeleted       EventType = "metric_deleted"
	EventMetricDisassociated EventType = "metric_disassociated"
	EventMachineUpdated      EventType = "machine_updated"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	// Remote marks events that arrived from another instance
	Remote bool `json:"-"`
}

// RuleEvent is the payload of rule events
type RuleEvent struct {
	Rule *domain.Rule `json:"rule"`
}

// MetricEvent is the payload of metric events. Machine is set for
// metric_added and metric_disassociated.
type MetricEvent struct {
	Machine *domain.Machine `json:"machine,omitempty"`
	Metric  *domain.Metric  `json:"metric"`
}

// MachineEvent is the payload of machine_updated
type MachineEvent struct {
	Machine *domain.Machine `json:"machine"`
}

// Handler receives events synchronously on the publishing goroutine
type Handler func(Event)

type handlerEntry struct {
	id uint64
	fn Handler
}

// Subscription is returned by On and released with Unsubscribe
type Subscription struct {
	bus       *EventBus
	eventType EventType
	id        uint64
	once      sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is safe.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.eventType, s.id)
	})
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
	handlers    map[EventType][]handlerEntry
	nextID      uint64
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
		handlers:    make(map[EventType][]handlerEntry),
	}
}

// Subscribe adds a channel subscriber that receives every event
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// On registers a handler for one event type
func (eb *EventBus) On(eventType EventType, fn Handler) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{id: id, fn: fn})
	return &Subscription{bus: eb, eventType: eventType, id: id}
}

// HandlerCount returns the number of live handlers for an event type
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// Publish delivers an event to handlers, then to channel subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	handlers := slices.Clone(eb.handlers[event.Type])
	subscribers := slices.Clone(eb.subscribers)
	eb.mu.RUnlock()

	for _, h := range handlers {
		h.fn(event)
	}

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

func (eb *EventBus) remove(eventType EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = slices.DeleteFunc(eb.handlers[eventType], func(h handlerEntry) bool {
		return h.id == id
	})
}
