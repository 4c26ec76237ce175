// Package behavior evaluates platform-conditional expectations about the
// target application's windows and features.
package behavior

import (
	"context"
	"errors"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/ban5104/SpeakMCP-sub001/internal/bridge"
	"github.com/ban5104/SpeakMCP-sub001/internal/windows"
)

// Expected panel window shape: fixed size regardless of platform, pinned to
// the top-right of the primary display's work area.
const (
	PanelWidth  = 260
	PanelHeight = 50
	PanelMargin = 10
)

// Check names.
const (
	CheckPanelGeometry = "panel-geometry"
	CheckPanelPosition = "panel-position"
	CheckDock          = "dock-visibility"
	CheckTray          = "tray-visibility"
	CheckAccessibility = "accessibility-permission"
	CheckShortcuts     = "shortcut-bindings"
)

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PanelPositionFor computes the expected top-right panel placement for a
// work-area rectangle. The matrix computes the expectation only; callers
// compare it against the live value from the registry.
func PanelPositionFor(workArea bridge.Rect) Point {
	return Point{
		X: workArea.X + workArea.Width - PanelWidth - PanelMargin,
		Y: workArea.Y + PanelMargin,
	}
}

// BridgeAPI is the subset of bridge queries the matrix consumes.
type BridgeAPI interface {
	PrimaryWorkArea(ctx context.Context) (bridge.Rect, error)
	AccessibilityTrusted(ctx context.Context) (bool, error)
	DockVisible(ctx context.Context) (bool, error)
	TrayPresent(ctx context.Context) (bool, error)
}

// RegistryAPI is the subset of registry lookups the matrix consumes.
type RegistryAPI interface {
	Window(ctx context.Context, tag string) (*windows.Handle, error)
}

// Evaluator produces one verdict against the live target.
type Evaluator func(ctx context.Context) (Verdict, error)

// Option configures Matrix construction.
type Option func(*Matrix)

// WithLogger configures the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Matrix) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Matrix maps behavior names to platform-gated evaluators.
type Matrix struct {
	profile  Profile
	registry RegistryAPI
	bridge   BridgeAPI
	logger   *log.Logger
}

// NewMatrix builds the behavior matrix for one platform profile.
func NewMatrix(profile Profile, registry RegistryAPI, bridgeAPI BridgeAPI, options ...Option) (*Matrix, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if bridgeAPI == nil {
		return nil, errors.New("bridge is required")
	}

	m := &Matrix{
		profile:  profile,
		registry: registry,
		bridge:   bridgeAPI,
		logger:   log.Default(),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(m)
	}
	return m, nil
}

// Profile returns the platform profile this matrix evaluates against.
func (m *Matrix) Profile() Profile { return m.profile }

// Evaluators returns the full behavior table keyed by check name.
func (m *Matrix) Evaluators() map[string]Evaluator {
	return map[string]Evaluator{
		CheckPanelGeometry: m.PanelGeometry,
		CheckPanelPosition: m.PanelPosition,
		CheckDock:          m.DockVisibility,
		CheckTray:          m.TrayVisibility,
		CheckAccessibility: m.AccessibilityPermission,
		CheckShortcuts:     m.ShortcutBindings,
	}
}

// CheckNames returns the registered check names in stable order.
func (m *Matrix) CheckNames() []string {
	evaluators := m.Evaluators()
	names := make([]string, 0, len(evaluators))
	for name := range evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllCheckNames lists every registered check name without requiring a
// constructed matrix.
func AllCheckNames() []string {
	names := []string{
		CheckAccessibility,
		CheckDock,
		CheckPanelGeometry,
		CheckPanelPosition,
		CheckShortcuts,
		CheckTray,
	}
	sort.Strings(names)
	return names
}

// PanelGeometry verifies the panel window's fixed shape and flags. Panel
// presence is mandatory: an absent panel is a hard failure, not a skip.
// Profile-gated extensions are reported under PlatformSpecific and do not
// fail the universal check.
func (m *Matrix) PanelGeometry(ctx context.Context) (Verdict, error) {
	handle, err := m.registry.Window(ctx, windows.TagPanel)
	if err != nil {
		return Verdict{}, err
	}
	if handle == nil {
		m.logger.Warn("panel window absent", "check", CheckPanelGeometry)
		return Verdict{
			Name:      CheckPanelGeometry,
			Supported: true,
			Verified:  true,
			Passed:    false,
			Reason:    "panel window not found",
		}, nil
	}

	snapshot := handle.Snapshot
	details := []Detail{
		detail("width", PanelWidth, snapshot.Bounds.Width),
		detail("height", PanelHeight, snapshot.Bounds.Height),
		detail("alwaysOnTop", true, snapshot.AlwaysOnTop),
		detail("closable", false, snapshot.Closable),
		detail("maximizable", false, snapshot.Maximizable),
	}

	var platformSpecific []Detail
	if m.profile.IsMac {
		platformSpecific = []Detail{
			{Field: "vibrancy", Want: "non-empty", Got: snapshot.Vibrancy, OK: snapshot.Vibrancy != ""},
			detail("hiddenFromSwitcher", true, snapshot.HiddenFromSwitcher),
			detail("acceptsKeysUnfocused", true, snapshot.AcceptsKeysUnfocused),
		}
	} else {
		platformSpecific = []Detail{
			detail("skipTaskbar", true, snapshot.SkipTaskbar),
			detail("resizable", false, snapshot.Resizable),
		}
	}

	return Verdict{
		Name:             CheckPanelGeometry,
		Supported:        true,
		Verified:         true,
		Passed:           allOK(details),
		Details:          details,
		PlatformSpecific: platformSpecific,
	}, nil
}

// PanelPosition compares the live panel origin against the computed
// top-right placement for the primary display's work area.
func (m *Matrix) PanelPosition(ctx context.Context) (Verdict, error) {
	handle, err := m.registry.Window(ctx, windows.TagPanel)
	if err != nil {
		return Verdict{}, err
	}
	if handle == nil {
		m.logger.Warn("panel window absent", "check", CheckPanelPosition)
		return Verdict{
			Name:      CheckPanelPosition,
			Supported: true,
			Verified:  true,
			Passed:    false,
			Reason:    "panel window not found",
		}, nil
	}

	workArea, err := m.bridge.PrimaryWorkArea(ctx)
	if err != nil {
		return Verdict{}, err
	}
	expected := PanelPositionFor(workArea)

	details := []Detail{
		detail("x", expected.X, handle.Snapshot.Bounds.X),
		detail("y", expected.Y, handle.Snapshot.Bounds.Y),
	}
	return Verdict{
		Name:      CheckPanelPosition,
		Supported: true,
		Verified:  true,
		Passed:    allOK(details),
		Details:   details,
	}, nil
}

// DockVisibility checks that the dock icon stays hidden while the panel app
// runs. Only meaningful on mac; elsewhere it reports non-applicability
// without touching the bridge.
func (m *Matrix) DockVisibility(ctx context.Context) (Verdict, error) {
	if !m.profile.IsMac {
		return notApplicable(CheckDock), nil
	}

	visible, err := m.bridge.DockVisible(ctx)
	if err != nil {
		return Verdict{}, err
	}
	details := []Detail{detail("dockVisible", false, visible)}
	return Verdict{
		Name:      CheckDock,
		Supported: true,
		Verified:  true,
		Passed:    allOK(details),
		Details:   details,
	}, nil
}

// TrayVisibility checks the tray marker on windows/linux profiles;
// non-applicability is symmetric with the dock check on mac.
func (m *Matrix) TrayVisibility(ctx context.Context) (Verdict, error) {
	if m.profile.IsMac {
		return notApplicable(CheckTray), nil
	}

	present, err := m.bridge.TrayPresent(ctx)
	if err != nil {
		return Verdict{}, err
	}
	details := []Detail{detail("trayPresent", true, present)}
	return Verdict{
		Name:      CheckTray,
		Supported: true,
		Verified:  true,
		Passed:    allOK(details),
		Details:   details,
	}, nil
}

// AccessibilityPermission is required only on mac. On other profiles the
// absent requirement is modeled as automatically satisfied, not skipped, so
// aggregation treats "required but ungranted" as the only failing state.
func (m *Matrix) AccessibilityPermission(ctx context.Context) (Verdict, error) {
	if !m.profile.IsMac {
		return Verdict{
			Name:      CheckAccessibility,
			Supported: true,
			Verified:  true,
			Passed:    true,
			Details: []Detail{
				detail("required", false, false),
				detail("granted", true, true),
			},
		}, nil
	}

	granted, err := m.bridge.AccessibilityTrusted(ctx)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{
		Name:      CheckAccessibility,
		Supported: true,
		Verified:  true,
		Passed:    granted,
		Details: []Detail{
			detail("required", true, true),
			detail("granted", true, granted),
		},
	}, nil
}

// ShortcutBindings records the expected per-platform binding table. Key
// simulation is not performed here, so the verdict is explicitly marked
// unverified rather than reporting false confidence.
func (m *Matrix) ShortcutBindings(_ context.Context) (Verdict, error) {
	expected := ExpectedShortcuts(m.profile)

	actions := make([]string, 0, len(expected))
	for action := range expected {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	details := make([]Detail, 0, len(actions))
	for _, action := range actions {
		details = append(details, Detail{Field: action, Want: expected[action], OK: true})
	}

	return Verdict{
		Name:      CheckShortcuts,
		Supported: true,
		Verified:  false,
		Passed:    false,
		Reason:    "binding simulation not performed; expected bindings recorded only",
		Details:   details,
	}, nil
}
