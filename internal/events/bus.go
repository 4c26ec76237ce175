// Package events is the in-process notification fabric for a coordinator
// run. Session, registry, and suite publish here; consumers (the report
// timeline, tests) subscribe without coupling to the producers.
package events

import (
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the default per-listener channel capacity.
const DefaultBufferSize = 64

const (
	// EventTypeSessionStateChanged identifies session lifecycle transitions.
	EventTypeSessionStateChanged = "SessionStateChanged"
	// EventTypeWindowClassified identifies a window newly bound to a tag.
	EventTypeWindowClassified = "WindowClassified"
	// EventTypeWindowInvalidated identifies a tag binding dropped from the registry cache.
	EventTypeWindowInvalidated = "WindowInvalidated"
	// EventTypeVerdictRecorded identifies one behavior check verdict.
	EventTypeVerdictRecorded = "VerdictRecorded"
	// EventTypeTeardownFailure identifies swallowed teardown errors.
	EventTypeTeardownFailure = "TeardownFailure"
)

const (
	// SeverityInfo indicates informational event severity.
	SeverityInfo = "INFO"
	// SeverityWarn indicates warning event severity.
	SeverityWarn = "WARN"
	// SeverityError indicates error event severity.
	SeverityError = "ERROR"
)

// Event is the normalized message delivered through the in-process event bus.
type Event struct {
	Type      string
	Timestamp time.Time
	SessionID string
	Subject   string
	Payload   any
	Severity  string
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warning logs for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Bus defines event subscription and publish behavior.
type Bus interface {
	Subscribe(eventType string, handler Handler)
	SubscribeAll(handler Handler)
	Publish(event Event)
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-listener channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the log sink used for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus fans events out to registered listeners over buffered
// channels. Each listener drains on its own goroutine, so a slow handler
// never blocks a publisher; when a listener's buffer fills, events for it
// are dropped with a warning instead.
type InMemoryBus struct {
	bufferSize int
	logger     Logger

	mu        sync.RWMutex
	listeners []*listener

	nextID atomic.Uint64
}

// listener is one subscription. An empty filter matches every event type.
type listener struct {
	id     uint64
	filter string
	ch     chan Event
}

// New creates an in-memory event bus with optional configuration.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize: DefaultBufferSize,
		logger:     log.Default(),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || handler == nil {
		return
	}
	b.attach(eventType, handler)
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}
	b.attach("", handler)
}

func (b *InMemoryBus) attach(filter string, handler Handler) {
	l := &listener{
		id:     b.nextID.Add(1),
		filter: filter,
		ch:     make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()

	go func() {
		for event := range l.ch {
			handler(event)
		}
	}()
}

// Publish delivers an event to every listener whose filter admits it.
// Delivery is non-blocking.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	eventType := strings.TrimSpace(event.Type)

	b.mu.RLock()
	targets := make([]*listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.filter == "" || l.filter == eventType {
			targets = append(targets, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range targets {
		select {
		case l.ch <- event:
		default:
			b.logger.Printf(
				"events: dropping event for listener=%d type=%s session=%s subject=%s",
				l.id, event.Type, event.SessionID, event.Subject,
			)
		}
	}
}
