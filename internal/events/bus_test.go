package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	want   int
}

func newRecordingHandler(want int) *recordingHandler {
	return &recordingHandler{done: make(chan struct{}), want: want}
}

func (r *recordingHandler) handle(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	if len(r.events) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
}

func (r *recordingHandler) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d events", r.want)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestPublishDeliversToTypedSubscriber(t *testing.T) {
	t.Parallel()

	bus := New()
	handler := newRecordingHandler(1)
	bus.Subscribe(EventTypeWindowClassified, handler.handle)

	bus.Publish(Event{
		Type:      EventTypeWindowClassified,
		SessionID: "run-1",
		Subject:   "panel",
		Severity:  SeverityInfo,
	})
	bus.Publish(Event{Type: EventTypeVerdictRecorded, Subject: "other"})

	got := handler.wait(t)
	if len(got) != 1 {
		t.Fatalf("delivered events = %d, want 1", len(got))
	}
	if got[0].Subject != "panel" {
		t.Fatalf("subject = %q, want %q", got[0].Subject, "panel")
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("publish should stamp a timestamp when unset")
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	t.Parallel()

	bus := New()
	handler := newRecordingHandler(3)
	bus.SubscribeAll(handler.handle)

	types := []string{
		EventTypeSessionStateChanged,
		EventTypeWindowInvalidated,
		EventTypeTeardownFailure,
	}
	for _, eventType := range types {
		bus.Publish(Event{Type: eventType})
	}

	got := handler.wait(t)
	for i, eventType := range types {
		if got[i].Type != eventType {
			t.Fatalf("event %d type = %q, want %q", i, got[i].Type, eventType)
		}
	}
}

type countingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *countingLogger) Printf(format string, args ...any) {
	c.mu.Lock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

func TestPublishDropsWhenSubscriberSaturated(t *testing.T) {
	t.Parallel()

	logger := &countingLogger{}
	bus := New(WithBufferSize(1), WithLogger(logger))

	release := make(chan struct{})
	bus.Subscribe(EventTypeVerdictRecorded, func(Event) {
		<-release
	})

	// First event occupies the handler, second fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventTypeVerdictRecorded})
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		logger.mu.Lock()
		dropped := len(logger.lines)
		logger.mu.Unlock()
		if dropped >= 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("dropped-event warnings = %d, want at least 3", dropped)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
