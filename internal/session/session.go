// Package session owns the lifecycle of one target-process run:
// launch, ready-wait, and guaranteed teardown.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ban5104/SpeakMCP-sub001/internal/bridge"
	"github.com/ban5104/SpeakMCP-sub001/internal/events"
)

// State is one session lifecycle state.
type State string

const (
	// StateUnstarted is the initial state before launch.
	StateUnstarted State = "unstarted"
	// StateLaunched is reached when the first window-created signal fires.
	StateLaunched State = "launched"
	// StateReady is reached when the target reports full initialization.
	StateReady State = "ready"
	// StateClosed is terminal. Closing an already-closed session is a no-op.
	StateClosed State = "closed"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateUnstarted: {
		StateLaunched: {},
		StateClosed:   {},
	},
	StateLaunched: {
		StateReady:  {},
		StateClosed: {},
	},
	StateReady: {
		StateClosed: {},
	},
}

const (
	defaultLaunchTimeout  = 15 * time.Second
	defaultReadyTimeout   = 20 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
	defaultTerminateGrace = 5 * time.Second
	defaultForcedExitWait = 2 * time.Second

	inspectFlag    = "--inspect=0"
	stderrTailSize = 20
)

// testEnvDefaults is the test-scoped environment overlay forced onto the
// target: non-interactive test mode, production code paths, no background
// update checks. Caller-supplied entries override these.
var testEnvDefaults = map[string]string{
	"NODE_ENV":             "test",
	"ELECTRON_IS_DEV":      "0",
	"DISABLE_AUTO_UPDATER": "1",
}

var inspectorURLPattern = regexp.MustCompile(`(ws://\S+)`)

// Dialer opens a bridge transport to the target's inspector endpoint.
type Dialer func(ctx context.Context, wsURL string) (bridge.Transport, error)

// Options configures one session launch.
type Options struct {
	TargetPath string
	Args       []string
	// Env overrides and extends the forced test-mode overlay.
	Env map[string]string

	LaunchTimeout  time.Duration
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	TerminateGrace time.Duration

	Logger *log.Logger
	Bus    events.Bus
	Tracer trace.Tracer

	// Starter and Dialer are injectable for tests.
	Starter Starter
	Dialer  Dialer
}

// Session owns the target process handle. Exactly one live session exists
// per test run.
type Session struct {
	id   string
	opts Options

	proc      Process
	transport bridge.Transport
	br        *bridge.Bridge

	mu    sync.Mutex
	state State

	// done closes when the process exits; exitErr holds the Wait result.
	done    chan struct{}
	exitErr error
	// stderrDone closes when the stderr scanner has drained the stream.
	stderrDone chan struct{}

	stderrMu   sync.Mutex
	stderrTail []string

	logger *log.Logger
	bus    events.Bus
	tracer trace.Tracer
	now    func() time.Time
	sleep  func(time.Duration)
}

// Launch starts the target process with the test environment overlay and
// blocks until the first window-created signal. The returned session is in
// the launched state; callers must WaitReady before running behavior checks.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	if strings.TrimSpace(opts.TargetPath) == "" {
		return nil, errors.New("target path is required")
	}
	applyDefaults(&opts)

	s := &Session{
		id:         uuid.NewString(),
		opts:       opts,
		state:      StateUnstarted,
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		bus:        opts.Bus,
		tracer:     opts.Tracer,
		now:        time.Now,
		sleep:      time.Sleep,
	}
	s.logger = opts.Logger.With("session_id", s.id)

	args := append(append([]string{}, opts.Args...), inspectFlag)
	env := overlayEnv(os.Environ(), opts.Env)

	proc, err := opts.Starter(ctx, opts.TargetPath, args, env)
	if err != nil {
		return nil, &LaunchFailedError{Reason: "target did not start", ExitErr: err}
	}
	s.proc = proc

	wsURLCh := make(chan string, 1)
	go s.scanStderr(proc, wsURLCh)
	go func() {
		s.exitErr = proc.Wait()
		close(s.done)
	}()

	wsURL, err := s.awaitInspector(ctx, wsURLCh)
	if err != nil {
		s.forceKill()
		return nil, err
	}

	transport, err := opts.Dialer(ctx, wsURL)
	if err != nil {
		s.forceKill()
		return nil, &LaunchFailedError{Reason: "inspector dial failed", ExitErr: err, StderrTail: s.tail()}
	}
	s.transport = transport

	br, err := bridge.New(transport, s, bridge.WithLogger(s.logger), bridge.WithTracer(s.tracer))
	if err != nil {
		s.forceKill()
		return nil, err
	}
	s.br = br

	if err := s.awaitFirstWindow(ctx); err != nil {
		s.forceKill()
		return nil, err
	}

	if err := s.transition(ctx, StateLaunched); err != nil {
		s.forceKill()
		return nil, err
	}
	s.logger.With("pid", proc.PID()).Info("session launched")
	return s, nil
}

// Run launches a session, invokes fn, and guarantees teardown on every exit
// path including panics in fn.
func Run(ctx context.Context, opts Options, fn func(*Session) error) error {
	s, err := Launch(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(context.WithoutCancel(ctx)); closeErr != nil {
			s.logger.With("error", closeErr).Warn("session teardown reported failure")
		}
	}()
	return fn(s)
}

// ID returns the session's unique run-scoped identifier.
func (s *Session) ID() string { return s.id }

// Bridge returns the remote-evaluation bridge gated by this session.
func (s *Session) Bridge() *bridge.Bridge { return s.br }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether the session admits bridge traffic.
func (s *Session) Live() bool {
	state := s.State()
	return state == StateLaunched || state == StateReady
}

// StateName implements the bridge gate.
func (s *Session) StateName() string { return string(s.State()) }

// WaitReady polls the target's readiness query until it reports true, then
// moves the session to ready. Window existence does not imply full
// initialization, so behavior checks must wait for this.
func (s *Session) WaitReady(ctx context.Context) error {
	deadline := s.now().Add(s.opts.ReadyTimeout)
	for {
		ready, err := s.br.IsAppReady(ctx)
		if err != nil && !errors.Is(err, &bridge.RemoteExecutionError{}) {
			return fmt.Errorf("readiness query: %w", err)
		}
		if ready {
			return s.transition(ctx, StateReady)
		}
		if !s.now().Before(deadline) {
			return fmt.Errorf("session not ready after %v", s.opts.ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return &LaunchFailedError{Reason: "process exited before ready", ExitErr: s.exitErr, StderrTail: s.tail()}
		default:
		}
		s.sleep(s.opts.PollInterval)
	}
}

// Close tears the session down: every live window is closed gracefully
// (individual failures are logged and swallowed), then the target is asked
// to quit, with a forced-termination fallback. Close is idempotent; a second
// call is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasLive := s.state == StateLaunched || s.state == StateReady
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "session.close")
	defer span.End()

	if wasLive {
		s.closeWindows(ctx)
		if err := s.br.Quit(ctx); err != nil {
			s.swallow("remote quit", err)
		}
	}

	if s.proc != nil && !s.waitExit(s.opts.TerminateGrace) {
		s.logger.Warn("graceful quit timed out, escalating")
		if err := s.proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.swallow("sigterm", err)
		}
		if !s.waitExit(s.opts.TerminateGrace) {
			if err := s.proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				s.swallow("sigkill", err)
			}
			s.waitExit(defaultForcedExitWait)
		}
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.swallow("transport close", err)
		}
	}

	if err := s.transition(ctx, StateClosed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "session closed")
	s.logger.Info("session closed")
	return nil
}

// closeWindows closes every tracked window, ignoring individual failures.
func (s *Session) closeWindows(ctx context.Context) {
	windows, err := s.br.ListWindows(ctx)
	if err != nil {
		s.swallow("list windows for teardown", err)
		return
	}
	for _, w := range windows {
		if err := s.br.CloseWindow(ctx, w.ID); err != nil {
			s.swallow(fmt.Sprintf("close window %d", w.ID), err)
		}
	}
}

func (s *Session) awaitInspector(ctx context.Context, wsURLCh <-chan string) (string, error) {
	timer := time.NewTimer(s.opts.LaunchTimeout)
	defer timer.Stop()

	select {
	case wsURL := <-wsURLCh:
		return wsURL, nil
	case <-s.done:
		return "", &LaunchFailedError{
			Reason:     "process exited before announcing its inspector endpoint",
			ExitErr:    s.exitErr,
			StderrTail: s.tail(),
		}
	case <-timer.C:
		return "", &LaunchFailedError{
			Reason:     fmt.Sprintf("no inspector endpoint within %v", s.opts.LaunchTimeout),
			StderrTail: s.tail(),
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// awaitFirstWindow polls the window count until the target shows its first
// window. Window creation is asynchronous and unordered relative to the
// caller, so a poll loop is the portable detection mechanism.
func (s *Session) awaitFirstWindow(ctx context.Context) error {
	deadline := s.now().Add(s.opts.LaunchTimeout)
	for {
		count, err := bridge.CountWindows(ctx, s.transport)
		if err != nil && errors.Is(err, bridge.ErrChannelClosed) {
			return &LaunchFailedError{Reason: "channel closed before first window", StderrTail: s.tail()}
		}
		if err == nil && count > 0 {
			return nil
		}
		select {
		case <-s.done:
			return &LaunchFailedError{
				Reason:     "process exited before its first window",
				ExitErr:    s.exitErr,
				StderrTail: s.tail(),
			}
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !s.now().Before(deadline) {
			return &LaunchFailedError{
				Reason:     fmt.Sprintf("no window within %v", s.opts.LaunchTimeout),
				StderrTail: s.tail(),
			}
		}
		s.sleep(s.opts.PollInterval)
	}
}

func (s *Session) waitExit(window time.Duration) bool {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Session) forceKill() {
	if s.proc == nil {
		return
	}
	_ = s.proc.Signal(syscall.SIGKILL)
	s.waitExit(defaultForcedExitWait)
	if s.transport != nil {
		_ = s.transport.Close()
	}
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

func (s *Session) scanStderr(proc Process, wsURLCh chan<- string) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(proc.Stderr())
	announced := false
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrMu.Lock()
		s.stderrTail = append(s.stderrTail, line)
		if len(s.stderrTail) > stderrTailSize {
			s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrTailSize:]
		}
		s.stderrMu.Unlock()

		if !announced && strings.Contains(line, "listening on") {
			if match := inspectorURLPattern.FindString(line); match != "" {
				announced = true
				wsURLCh <- match
			}
		}
	}
}

// tail returns the most recent stderr lines for failure diagnostics. It
// briefly waits for the scanner to drain so an exiting process's last words
// make it into the report.
func (s *Session) tail() []string {
	select {
	case <-s.stderrDone:
	case <-time.After(200 * time.Millisecond):
	}
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	out := make([]string, len(s.stderrTail))
	copy(out, s.stderrTail)
	return out
}

// transition validates and applies one lifecycle state change.
func (s *Session) transition(ctx context.Context, to State) error {
	ctx, span := s.tracer.Start(ctx, "session.transition")
	defer span.End()

	s.mu.Lock()
	from := s.state
	if _, ok := allowedTransitions[from][to]; !ok {
		s.mu.Unlock()
		err := &InvalidTransitionError{SessionID: s.id, FromState: from, ToState: to}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.state = to
	s.mu.Unlock()

	span.SetAttributes(
		attribute.String("from_state", string(from)),
		attribute.String("to_state", string(to)),
	)
	span.SetStatus(codes.Ok, "state transition applied")

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.EventTypeSessionStateChanged,
			SessionID: s.id,
			Subject:   string(to),
			Severity:  events.SeverityInfo,
			Payload:   map[string]string{"from": string(from), "to": string(to)},
		})
	}
	_ = ctx
	return nil
}

// swallow logs a teardown failure without letting it mask the caller's error.
func (s *Session) swallow(op string, err error) {
	s.logger.With("op", op, "error", err).Warn("teardown failure swallowed")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.EventTypeTeardownFailure,
			SessionID: s.id,
			Subject:   op,
			Severity:  events.SeverityWarn,
			Payload:   err.Error(),
		})
	}
}

func applyDefaults(opts *Options) {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = defaultTerminateGrace
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("speakmcp-e2e/session")
	}
	if opts.Starter == nil {
		opts.Starter = execStarter
	}
	if opts.Dialer == nil {
		opts.Dialer = func(ctx context.Context, wsURL string) (bridge.Transport, error) {
			return bridge.Dial(ctx, wsURL)
		}
	}
}

// overlayEnv layers the forced test defaults and then caller overrides on
// top of the base environment.
func overlayEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(testEnvDefaults)+len(overrides))
	order := make([]string, 0, len(base)+len(testEnvDefaults)+len(overrides))

	set := func(key, value string) {
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = value
	}

	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		set(key, value)
	}
	for key, value := range testEnvDefaults {
		set(key, value)
	}
	for key, value := range overrides {
		set(key, value)
	}

	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, key+"="+merged[key])
	}
	return out
}
