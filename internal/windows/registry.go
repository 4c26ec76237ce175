// Package windows discovers and tracks the target application's live
// windows, classifying each by an ordered tag rule table.
package windows

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ban5104/SpeakMCP-sub001/internal/bridge"
	"github.com/ban5104/SpeakMCP-sub001/internal/events"
)

// DefaultPollInterval is the fixed wait-for-window polling interval.
const DefaultPollInterval = 100 * time.Millisecond

// Snapshotter lists all live windows in one bridge round-trip.
type Snapshotter interface {
	ListWindows(ctx context.Context) ([]bridge.WindowInfo, error)
}

// Handle is a classified window: a stable tag plus the metadata snapshot
// taken at classification time. The window reference is weak — the registry
// re-resolves it on each lookup rather than caching indefinitely.
type Handle struct {
	Tag      string
	ID       int
	Snapshot bridge.WindowInfo
}

// Option configures Registry construction.
type Option func(*Registry)

// WithRules overrides the classification rule table.
func WithRules(rules []Rule) Option {
	return func(r *Registry) {
		if len(rules) > 0 {
			r.rules = rules
		}
	}
}

// WithPollInterval overrides the wait polling interval.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBus configures the event bus for classification events.
func WithBus(bus events.Bus, sessionID string) Option {
	return func(r *Registry) {
		r.bus = bus
		r.sessionID = sessionID
	}
}

// Registry owns the tag→handle cache. The cache is mutated only on
// successful classification or detected invalidation; there is no external
// writer.
type Registry struct {
	snapshotter  Snapshotter
	rules        []Rule
	pollInterval time.Duration
	logger       *log.Logger
	bus          events.Bus
	sessionID    string

	mu    sync.Mutex
	byTag map[string]Handle

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a registry over the given snapshot source.
func New(snapshotter Snapshotter, options ...Option) (*Registry, error) {
	if snapshotter == nil {
		return nil, errors.New("snapshotter is required")
	}

	r := &Registry{
		snapshotter:  snapshotter,
		rules:        DefaultRules(),
		pollInterval: DefaultPollInterval,
		logger:       log.Default(),
		byTag:        map[string]Handle{},
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(r)
	}
	return r, nil
}

// Window looks up the window for a tag. A miss returns (nil, nil), not an
// error; callers that require presence use WaitForWindow.
func (r *Registry) Window(ctx context.Context, tag string) (*Handle, error) {
	snapshot, err := r.snapshotter.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	r.classify(snapshot)

	r.mu.Lock()
	defer r.mu.Unlock()
	if handle, ok := r.byTag[tag]; ok {
		return &handle, nil
	}
	return nil, nil
}

// WaitForWindow polls Window at a fixed interval until a match appears or
// the timeout elapses, at which point it fails with *WindowNotFoundError.
// Window creation in the target is asynchronous and unordered relative to
// the caller; no creation-completion event is assumed observable, so the
// poll loop is the portable mechanism.
func (r *Registry) WaitForWindow(ctx context.Context, tag string, timeout time.Duration) (*Handle, error) {
	handles, err := r.WaitForWindows(ctx, []string{tag}, timeout)
	if err != nil {
		return nil, err
	}
	return handles[tag], nil
}

// WaitForWindows waits for every tag in one poll loop, sharing a single
// snapshot per round to bound bridge round-trips.
func (r *Registry) WaitForWindows(ctx context.Context, tags []string, timeout time.Duration) (map[string]*Handle, error) {
	deadline := r.now().Add(timeout)
	for {
		snapshot, err := r.snapshotter.ListWindows(ctx)
		if err != nil {
			return nil, err
		}
		r.classify(snapshot)

		found := r.lookupAll(tags)
		if found != nil {
			return found, nil
		}

		if !r.now().Before(deadline) {
			return nil, &WindowNotFoundError{Tag: firstMissing(tags, r.lookupAny(tags)), Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		r.sleep(r.pollInterval)
	}
}

// BrowserWindows returns the snapshot list for all windows in one bridge
// round-trip and refreshes the classification cache from it.
func (r *Registry) BrowserWindows(ctx context.Context) ([]bridge.WindowInfo, error) {
	snapshot, err := r.snapshotter.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	r.classify(snapshot)
	return snapshot, nil
}

// Invalidate drops a tag binding from the cache.
func (r *Registry) Invalidate(tag string) {
	r.mu.Lock()
	_, existed := r.byTag[tag]
	delete(r.byTag, tag)
	r.mu.Unlock()
	if existed {
		r.publishInvalidated(tag)
	}
}

// classify rebuilds the tag→handle cache from a window snapshot. Each window
// claims at most one tag and each tag at most one window; windows are
// visited in id order so precedence is deterministic.
func (r *Registry) classify(snapshot []bridge.WindowInfo) {
	ordered := make([]bridge.WindowInfo, len(snapshot))
	copy(ordered, snapshot)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	next := make(map[string]Handle, len(ordered))
	for _, info := range ordered {
		for _, rule := range r.rules {
			if _, taken := next[rule.Tag]; taken {
				continue
			}
			if rule.Match(info.URL) {
				next[rule.Tag] = Handle{Tag: rule.Tag, ID: info.ID, Snapshot: info}
				break
			}
		}
	}

	r.mu.Lock()
	previous := r.byTag
	r.byTag = next
	r.mu.Unlock()

	for tag, handle := range next {
		if old, ok := previous[tag]; !ok || old.ID != handle.ID {
			r.publishClassified(handle)
		}
	}
	for tag := range previous {
		if _, ok := next[tag]; !ok {
			r.publishInvalidated(tag)
		}
	}
}

func (r *Registry) lookupAll(tags []string) map[string]*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := make(map[string]*Handle, len(tags))
	for _, tag := range tags {
		handle, ok := r.byTag[tag]
		if !ok {
			return nil
		}
		found[tag] = &handle
	}
	return found
}

func (r *Registry) lookupAny(tags []string) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]bool, len(tags))
	for _, tag := range tags {
		_, present[tag] = r.byTag[tag]
	}
	return present
}

func firstMissing(tags []string, present map[string]bool) string {
	for _, tag := range tags {
		if !present[tag] {
			return tag
		}
	}
	if len(tags) > 0 {
		return tags[0]
	}
	return ""
}

func (r *Registry) publishClassified(handle Handle) {
	r.logger.With("tag", handle.Tag, "window_id", handle.ID, "url", handle.Snapshot.URL).
		Debug("window classified")
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:      events.EventTypeWindowClassified,
		SessionID: r.sessionID,
		Subject:   handle.Tag,
		Severity:  events.SeverityInfo,
		Payload:   handle,
	})
}

func (r *Registry) publishInvalidated(tag string) {
	r.logger.With("tag", tag).Debug("window binding invalidated")
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:      events.EventTypeWindowInvalidated,
		SessionID: r.sessionID,
		Subject:   tag,
		Severity:  events.SeverityInfo,
	})
}
