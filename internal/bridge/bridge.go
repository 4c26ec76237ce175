// Package bridge provides the remote-evaluation channel into the target
// process's privileged context.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rect is a screen-coordinate rectangle.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowInfo is a point-in-time snapshot of one live window, gathered in a
// single privileged evaluation. The switcher/key-event/vibrancy fields come
// from inspection state the target publishes in test mode.
type WindowInfo struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Bounds      Rect   `json:"bounds"`
	AlwaysOnTop bool   `json:"alwaysOnTop"`
	Closable    bool   `json:"closable"`
	Maximizable bool   `json:"maximizable"`
	Minimizable bool   `json:"minimizable"`
	Resizable   bool   `json:"resizable"`
	Visible     bool   `json:"visible"`
	Focused     bool   `json:"focused"`
	SkipTaskbar bool   `json:"skipTaskbar"`

	Vibrancy               string `json:"vibrancy"`
	HiddenFromSwitcher     bool   `json:"hiddenFromSwitcher"`
	AcceptsKeysUnfocused   bool   `json:"acceptsKeysUnfocused"`
	VisibleOnAllWorkspaces bool   `json:"visibleOnAllWorkspaces"`
}

// Ref names a remote singleton resolvable inside the target's privileged
// context. Refs are passed to EvaluateCall in place of serialized values.
type Ref string

const (
	// RefApp is the application singleton.
	RefApp Ref = "app"
	// RefScreen is the screen singleton.
	RefScreen Ref = "screen"
	// RefSystemPreferences is the platform trust/preferences singleton.
	RefSystemPreferences Ref = "systemPreferences"
)

// Gate reports whether the owning session may carry bridge traffic.
type Gate interface {
	Live() bool
	StateName() string
}

// Option configures Bridge construction.
type Option func(*Bridge)

// WithLogger configures the structured logger used for bridge diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTracer configures the tracer used for evaluation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Bridge) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// Bridge submits code descriptions to the target process and returns their
// settled results. It performs no retries; evaluation is assumed
// idempotent-unsafe and the caller decides whether to retry.
type Bridge struct {
	transport Transport
	gate      Gate
	logger    *log.Logger
	tracer    trace.Tracer
}

// New creates a bridge over the given transport, gated by the owning session.
func New(transport Transport, gate Gate, options ...Option) (*Bridge, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if gate == nil {
		return nil, errors.New("session gate is required")
	}

	b := &Bridge{
		transport: transport,
		gate:      gate,
		logger:    log.Default(),
		tracer:    otel.Tracer("speakmcp-e2e/bridge"),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(b)
	}
	return b, nil
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ReturnByValue bool   `json:"returnByValue"`
	AwaitPromise  bool   `json:"awaitPromise"`
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails"`
}

type exceptionDetails struct {
	Text      string `json:"text"`
	Exception *struct {
		Description string `json:"description"`
	} `json:"exception"`
}

// Evaluate runs one expression inside the target's privileged context and
// decodes its settled value into out. A remote throw surfaces as
// *RemoteExecutionError; a severed transport surfaces as ErrChannelClosed.
func (b *Bridge) Evaluate(ctx context.Context, expression string, out any) error {
	if b == nil {
		return errors.New("bridge is nil")
	}
	if !b.gate.Live() {
		return &SessionNotReadyError{State: b.gate.StateName()}
	}

	ctx, span := b.tracer.Start(ctx, "bridge.evaluate")
	defer span.End()
	span.SetAttributes(attribute.Int("expression_bytes", len(expression)))

	if err := Eval(ctx, b.transport, expression, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "evaluation settled")
	return nil
}

// Eval performs one ungated evaluation over a raw transport. Session launch
// plumbing uses it before the session reaches a state that admits gated
// bridge traffic; everything else goes through Bridge.Evaluate.
func Eval(ctx context.Context, transport Transport, expression string, out any) error {
	params := evaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}

	var result evaluateResult
	if err := transport.Call(ctx, "Runtime.evaluate", params, &result); err != nil {
		return err
	}

	if result.ExceptionDetails != nil {
		return &RemoteExecutionError{
			Message:    exceptionMessage(result.ExceptionDetails),
			Expression: expression,
		}
	}

	if out == nil {
		return nil
	}
	if len(result.Result.Value) == 0 {
		return fmt.Errorf("evaluation produced no value for result type %q", result.Result.Type)
	}
	if err := json.Unmarshal(result.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluation value: %w", err)
	}
	return nil
}

// CountWindows reports the number of live windows over a raw transport.
// Used by session launch to detect the first window-created signal.
func CountWindows(ctx context.Context, transport Transport) (int, error) {
	var count int
	expr := "(() => require('electron').BrowserWindow.getAllWindows().length)()"
	if err := Eval(ctx, transport, expr, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// EvaluateCall applies a remote function literal to the given arguments.
// Ref arguments resolve to named remote singletons; everything else is
// serialized by value.
func (b *Bridge) EvaluateCall(ctx context.Context, fn string, out any, args ...any) error {
	rendered := make([]string, 0, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case Ref:
			rendered = append(rendered, fmt.Sprintf("require('electron').%s", string(v)))
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode argument %d: %w", i, err)
			}
			rendered = append(rendered, string(encoded))
		}
	}
	expression := fmt.Sprintf("(%s)(%s)", fn, strings.Join(rendered, ", "))
	return b.Evaluate(ctx, expression, out)
}

const listWindowsExpression = `(() => {
	const { BrowserWindow } = require('electron');
	const flags = globalThis.__e2e || {};
	return BrowserWindow.getAllWindows().map((w) => {
		const f = (flags.windows || {})[w.id] || {};
		return {
			id: w.id,
			title: w.getTitle(),
			url: w.webContents.getURL(),
			bounds: w.getBounds(),
			alwaysOnTop: w.isAlwaysOnTop(),
			closable: w.isClosable(),
			maximizable: w.isMaximizable(),
			minimizable: w.isMinimizable(),
			resizable: w.isResizable(),
			visible: w.isVisible(),
			focused: w.isFocused(),
			skipTaskbar: Boolean(f.skipTaskbar),
			vibrancy: f.vibrancy || '',
			hiddenFromSwitcher: Boolean(f.hiddenFromSwitcher),
			acceptsKeysUnfocused: Boolean(f.acceptsKeysUnfocused),
			visibleOnAllWorkspaces: w.isVisibleOnAllWorkspaces(),
		};
	});
})()`

// ListWindows snapshots every live window in one round-trip.
func (b *Bridge) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	var windows []WindowInfo
	if err := b.Evaluate(ctx, listWindowsExpression, &windows); err != nil {
		return nil, err
	}
	return windows, nil
}

// CloseWindow asks the target to close one window gracefully. Closing a
// window that is already gone is a no-op.
func (b *Bridge) CloseWindow(ctx context.Context, id int) error {
	fn := `((id) => {
		const { BrowserWindow } = require('electron');
		const w = BrowserWindow.fromId(id);
		if (w && !w.isDestroyed()) { w.close(); }
		return true;
	})`
	var ok bool
	return b.EvaluateCall(ctx, fn, &ok, id)
}

// IsAppReady queries whether the application object finished initializing.
func (b *Bridge) IsAppReady(ctx context.Context) (bool, error) {
	var ready bool
	err := b.EvaluateCall(ctx, "((app) => app.isReady())", &ready, RefApp)
	return ready, err
}

// Quit asks the target to exit gracefully. The quit is deferred remotely so
// the evaluation itself settles before the process begins shutdown.
func (b *Bridge) Quit(ctx context.Context) error {
	var ok bool
	return b.EvaluateCall(ctx, "((app) => { setImmediate(() => app.quit()); return true; })", &ok, RefApp)
}

// PrimaryWorkArea returns the primary display's work-area rectangle.
func (b *Bridge) PrimaryWorkArea(ctx context.Context) (Rect, error) {
	var workArea Rect
	err := b.EvaluateCall(ctx, "((screen) => screen.getPrimaryDisplay().workArea)", &workArea, RefScreen)
	return workArea, err
}

// AccessibilityTrusted queries the platform trust API without prompting.
func (b *Bridge) AccessibilityTrusted(ctx context.Context) (bool, error) {
	var trusted bool
	err := b.EvaluateCall(ctx, "((sp) => sp.isTrustedAccessibilityClient(false))", &trusted, RefSystemPreferences)
	return trusted, err
}

// DockVisible queries dock icon visibility. Only meaningful on mac profiles;
// callers gate on the platform before invoking.
func (b *Bridge) DockVisible(ctx context.Context) (bool, error) {
	var visible bool
	err := b.EvaluateCall(ctx, "((app) => app.dock ? app.dock.isVisible() : false)", &visible, RefApp)
	return visible, err
}

// TrayPresent queries the test-mode tray marker the target publishes.
func (b *Bridge) TrayPresent(ctx context.Context) (bool, error) {
	var present bool
	err := b.Evaluate(ctx, "(() => Boolean(globalThis.__e2e && globalThis.__e2e.trayCreated))()", &present)
	return present, err
}

// Close severs the underlying transport.
func (b *Bridge) Close() error {
	if b == nil || b.transport == nil {
		return nil
	}
	return b.transport.Close()
}

func exceptionMessage(details *exceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil && strings.TrimSpace(details.Exception.Description) != "" {
		return details.Exception.Description
	}
	return details.Text
}
