package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one item flowing through the bus.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the concrete Event used by NewEvent.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

// Type returns the event's type string.
func (e *BaseEvent) Type() string {
	return e.EventType
}

// Timestamp returns when the event was created.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

// Payload returns the event's payload.
func (e *BaseEvent) Payload() any {
	return e.EventPayload
}

// NewEvent creates a new event stamped with the current time.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler processes one dispatched event.
type Handler func(ctx context.Context, event Event)

// Bus is the publish/subscribe interface implemented by InMemoryBus.
type Bus interface {
	// Publish dispatches an event to subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for an event type ("*" matches all).
	Subscribe(eventType string, handler Handler)
	// Unsubscribe removes the most recently registered handler for a type.
	Unsubscribe(eventType string, handler Handler)
	// Close stops dispatch and releases resources.
	Close()
}

// InMemoryBus is a buffered, goroutine-dispatched, in-process Bus.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus creates a bus with the given dispatch buffer size.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}

	// Start the dispatch goroutine.
	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish enqueues an event for dispatch, non-blocking — a full buffer
// drops the event with a warning rather than stalling the caller.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("Event published",
			zap.String("type", event.Type()),
		)
	default:
		b.logger.Warn("Event buffer full, dropping event",
			zap.String("type", event.Type()),
		)
	}
}

// Subscribe registers a handler for an event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make([]Handler, 0)
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", eventType),
	)
}

// Unsubscribe removes the most recently registered handler for a type.
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}

	// Go can't compare function values, so we drop the most recently
	// registered handler for this type — a safe default.
	newHandlers := make([]Handler, 0, len(handlers))
	removed := false
	for i := len(handlers) - 1; i >= 0; i-- {
		if !removed {
			removed = true
			continue // skip the last one
		}
		newHandlers = append([]Handler{handlers[i]}, newHandlers...)
	}
	if !removed {
		return
	}

	if len(newHandlers) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = newHandlers
	}
}

// Close stops dispatch and waits for in-flight handlers to finish.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

// dispatch is the bus's single reader goroutine.
func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

// dispatchEvent fans one event out to its type-specific and wildcard
// handlers concurrently.
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)

	if h, ok := b.handlers[event.Type()]; ok {
		handlers = append(handlers, h...)
	}

	if h, ok := b.handlers["*"]; ok {
		handlers = append(handlers, h...)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Handler panicked",
						zap.String("event_type", event.Type()),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
	wg.Wait()
}

// Event type constants for the gateway's live notification bus — distinct
// from audit.jsonl, which is the durable record; this bus offers
// in-process fan-out only, and no other package in this module publishes
// to or subscribes to it.
const (
	EventTypeStateChange     = "state_change"
	EventTypeApprovalRequest = "approval_request"
)

// StateChangePayload carries a Gateway state transition to subscribers.
type StateChangePayload struct {
	FromState string
	ToState   string
	Trigger   string
}

// ApprovalRequestPayload notifies subscribers that a new approval ticket
// (or batch) needs the owner's attention.
type ApprovalRequestPayload struct {
	ApprovalID string
	BatchID    string
	ToolName   string
	Rendered   string
}
