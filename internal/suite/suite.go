// Package suite orchestrates one coordinator run: launch the target, wait
// for readiness, evaluate the behavior matrix, and assemble the report.
package suite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ban5104/SpeakMCP-sub001/internal/behavior"
	"github.com/ban5104/SpeakMCP-sub001/internal/config"
	"github.com/ban5104/SpeakMCP-sub001/internal/events"
	"github.com/ban5104/SpeakMCP-sub001/internal/session"
	"github.com/ban5104/SpeakMCP-sub001/internal/windows"
)

const tracerName = "speakmcp-e2e/suite"

// Options configures a suite run. Config is required; everything else has
// working defaults.
type Options struct {
	Config *config.Config

	Logger *log.Logger
	Bus    events.Bus
	Tracer trace.Tracer

	// Profile overrides platform detection. Zero value means "detect".
	Profile *behavior.Profile

	// Starter and Dialer are injectable for tests.
	Starter session.Starter
	Dialer  session.Dialer

	now func() time.Time
}

// CheckNames lists every registered check in stable order, without
// launching anything.
func CheckNames() []string {
	return behavior.AllCheckNames()
}

// Run launches the target, drives the requested checks against it, and
// tears the session down on every exit path. With no names it runs the
// full matrix. The report is returned even when the run errs partway so
// callers can surface whatever verdicts were collected.
func Run(ctx context.Context, opts Options, names ...string) (*Report, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.New()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	profile := behavior.Current()
	if opts.Profile != nil {
		profile = *opts.Profile
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "suite.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("platform.os", profile.OS),
		))
	defer span.End()

	recorder := &recordingBus{inner: bus}
	bus = recorder

	report := &Report{
		RunID:     runID,
		Profile:   profile,
		StartedAt: now(),
	}

	cfg := opts.Config
	sessionOpts := session.Options{
		TargetPath:     cfg.TargetPath,
		Args:           cfg.TargetArgs,
		Env:            cfg.Env,
		LaunchTimeout:  cfg.LaunchTimeout,
		ReadyTimeout:   cfg.ReadyTimeout,
		PollInterval:   cfg.PollInterval,
		TerminateGrace: cfg.TerminateGrace,
		Logger:         logger,
		Bus:            bus,
		Tracer:         tracer,
		Starter:        opts.Starter,
		Dialer:         opts.Dialer,
	}

	runErr := session.Run(ctx, sessionOpts, func(s *session.Session) error {
		if err := s.WaitReady(ctx); err != nil {
			return err
		}

		registry, err := windows.New(s.Bridge(),
			windows.WithPollInterval(cfg.PollInterval),
			windows.WithLogger(logger),
			windows.WithBus(bus, s.ID()))
		if err != nil {
			return err
		}
		matrix, err := behavior.NewMatrix(profile, registry, s.Bridge(), behavior.WithLogger(logger))
		if err != nil {
			return err
		}

		// Give the target's windows a bounded head start. Absence is not
		// fatal here; the panel check itself renders absence as a failure.
		if _, err := registry.WaitForWindow(ctx, windows.TagMain, cfg.WindowTimeout); err != nil {
			var notFound *windows.WindowNotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
			logger.Warn("main window never appeared", "timeout", cfg.WindowTimeout)
		}

		verdicts, err := evaluate(ctx, matrix, names)
		report.Results = verdicts
		if err != nil {
			return err
		}

		for _, verdict := range verdicts {
			severity := events.SeverityInfo
			if verdict.Failed() {
				severity = events.SeverityError
			}
			bus.Publish(events.Event{
				Type:      events.EventTypeVerdictRecorded,
				Timestamp: now(),
				SessionID: s.ID(),
				Subject:   verdict.Name,
				Payload:   verdict,
				Severity:  severity,
			})
		}
		return nil
	})

	report.Duration = now().Sub(report.StartedAt)
	report.Timeline = timelineFromEvents(recorder.events())

	if runErr != nil {
		logger.Error("suite run failed", "error", runErr)
		return report, runErr
	}
	logger.Info("suite run complete",
		"checks", len(report.Results),
		"failed", report.Failed(),
		"duration", report.Duration)
	return report, nil
}

// recordingBus captures every published event synchronously so the report
// timeline is complete even though subscriber delivery is asynchronous.
type recordingBus struct {
	inner events.Bus

	mu       sync.Mutex
	captured []events.Event
}

func (b *recordingBus) Subscribe(eventType string, handler events.Handler) {
	b.inner.Subscribe(eventType, handler)
}

func (b *recordingBus) SubscribeAll(handler events.Handler) {
	b.inner.SubscribeAll(handler)
}

func (b *recordingBus) Publish(event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	b.captured = append(b.captured, event)
	b.mu.Unlock()
	b.inner.Publish(event)
}

func (b *recordingBus) events() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.captured))
	copy(out, b.captured)
	return out
}

// evaluate runs the requested checks in order. A bridge failure aborts the
// remainder: once the channel is suspect, later verdicts would be noise.
// Verdicts collected so far are still returned.
func evaluate(ctx context.Context, matrix *behavior.Matrix, names []string) ([]behavior.Verdict, error) {
	evaluators := matrix.Evaluators()
	if len(names) == 0 {
		names = matrix.CheckNames()
	}

	verdicts := make([]behavior.Verdict, 0, len(names))
	for _, name := range names {
		evaluator, ok := evaluators[name]
		if !ok {
			return verdicts, fmt.Errorf("unknown check %q", name)
		}
		verdict, err := evaluator(ctx)
		if err != nil {
			return verdicts, fmt.Errorf("check %s: %w", name, err)
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts, nil
}
