package behavior

import (
	"context"
	"testing"

	"github.com/ban5104/SpeakMCP-sub001/internal/bridge"
	"github.com/ban5104/SpeakMCP-sub001/internal/windows"
)

type fakeBridge struct {
	workArea bridge.Rect
	trusted  bool
	dock     bool
	tray     bool
	err      error
	calls    int
}

func (f *fakeBridge) PrimaryWorkArea(context.Context) (bridge.Rect, error) {
	f.calls++
	return f.workArea, f.err
}

func (f *fakeBridge) AccessibilityTrusted(context.Context) (bool, error) {
	f.calls++
	return f.trusted, f.err
}

func (f *fakeBridge) DockVisible(context.Context) (bool, error) {
	f.calls++
	return f.dock, f.err
}

func (f *fakeBridge) TrayPresent(context.Context) (bool, error) {
	f.calls++
	return f.tray, f.err
}

type fakeRegistry struct {
	handle *windows.Handle
	err    error
}

func (f *fakeRegistry) Window(context.Context, string) (*windows.Handle, error) {
	return f.handle, f.err
}

func goodPanel() *windows.Handle {
	return &windows.Handle{
		Tag: windows.TagPanel,
		ID:  2,
		Snapshot: bridge.WindowInfo{
			ID:          2,
			URL:         "app://-/panel",
			Bounds:      bridge.Rect{X: 1650, Y: 10, Width: 260, Height: 50},
			AlwaysOnTop: true,
			SkipTaskbar: true,

			Vibrancy:             "under-window",
			HiddenFromSwitcher:   true,
			AcceptsKeysUnfocused: true,
		},
	}
}

func newTestMatrix(t *testing.T, osName string, registry RegistryAPI, br BridgeAPI) *Matrix {
	t.Helper()
	m, err := NewMatrix(ProfileFor(osName), registry, br)
	if err != nil {
		t.Fatalf("new matrix: %v", err)
	}
	return m
}

func TestPanelPositionFor(t *testing.T) {
	got := PanelPositionFor(bridge.Rect{X: 0, Y: 0, Width: 1920, Height: 1080})
	want := Point{X: 1650, Y: 10}
	if got != want {
		t.Fatalf("position = %+v, want %+v", got, want)
	}
}

func TestPanelPositionForOffsetWorkArea(t *testing.T) {
	// Secondary-display style work area with a non-zero origin.
	got := PanelPositionFor(bridge.Rect{X: 100, Y: 40, Width: 1280, Height: 760})
	want := Point{X: 100 + 1280 - PanelWidth - PanelMargin, Y: 50}
	if got != want {
		t.Fatalf("position = %+v, want %+v", got, want)
	}
}

func TestPanelGeometryPasses(t *testing.T) {
	m := newTestMatrix(t, "linux", &fakeRegistry{handle: goodPanel()}, &fakeBridge{})

	verdict, err := m.PanelGeometry(context.Background())
	if err != nil {
		t.Fatalf("panel geometry: %v", err)
	}
	if !verdict.Supported || !verdict.Verified || !verdict.Passed {
		t.Fatalf("verdict = %+v, want supported verified pass", verdict)
	}
	if verdict.Failed() {
		t.Fatal("passing verdict reported as failed")
	}
	if len(verdict.Details) != 5 {
		t.Fatalf("details = %d, want 5 universal fields", len(verdict.Details))
	}
}

func TestPanelGeometryFlagsEachViolation(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*bridge.WindowInfo)
	}{
		{"width", func(w *bridge.WindowInfo) { w.Bounds.Width = 300 }},
		{"height", func(w *bridge.WindowInfo) { w.Bounds.Height = 64 }},
		{"alwaysOnTop", func(w *bridge.WindowInfo) { w.AlwaysOnTop = false }},
		{"closable", func(w *bridge.WindowInfo) { w.Closable = true }},
		{"maximizable", func(w *bridge.WindowInfo) { w.Maximizable = true }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			panel := goodPanel()
			tt.mutate(&panel.Snapshot)
			m := newTestMatrix(t, "linux", &fakeRegistry{handle: panel}, &fakeBridge{})

			verdict, err := m.PanelGeometry(context.Background())
			if err != nil {
				t.Fatalf("panel geometry: %v", err)
			}
			if verdict.Passed {
				t.Fatalf("verdict passed despite bad %s", tt.field)
			}
			for _, d := range verdict.Details {
				if d.Field == tt.field && d.OK {
					t.Fatalf("detail %s reported ok: %+v", tt.field, d)
				}
				if d.Field != tt.field && !d.OK {
					t.Fatalf("unrelated detail %s flagged: %+v", d.Field, d)
				}
			}
		})
	}
}

func TestPanelGeometryPlatformSpecificDoesNotFail(t *testing.T) {
	panel := goodPanel()
	panel.Snapshot.Vibrancy = ""
	panel.Snapshot.HiddenFromSwitcher = false
	m := newTestMatrix(t, "darwin", &fakeRegistry{handle: panel}, &fakeBridge{})

	verdict, err := m.PanelGeometry(context.Background())
	if err != nil {
		t.Fatalf("panel geometry: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("universal check failed: %+v", verdict)
	}
	if allOK(verdict.PlatformSpecific) {
		t.Fatalf("platform details all ok despite violations: %+v", verdict.PlatformSpecific)
	}
}

func TestPanelGeometryPlatformDetailsPerProfile(t *testing.T) {
	mac := newTestMatrix(t, "darwin", &fakeRegistry{handle: goodPanel()}, &fakeBridge{})
	verdict, err := mac.PanelGeometry(context.Background())
	if err != nil {
		t.Fatalf("panel geometry: %v", err)
	}
	var fields []string
	for _, d := range verdict.PlatformSpecific {
		fields = append(fields, d.Field)
	}
	wantMac := []string{"vibrancy", "hiddenFromSwitcher", "acceptsKeysUnfocused"}
	if len(fields) != len(wantMac) {
		t.Fatalf("mac platform fields = %v, want %v", fields, wantMac)
	}
	for i, f := range wantMac {
		if fields[i] != f {
			t.Fatalf("mac platform fields = %v, want %v", fields, wantMac)
		}
	}

	win := newTestMatrix(t, "windows", &fakeRegistry{handle: goodPanel()}, &fakeBridge{})
	verdict, err = win.PanelGeometry(context.Background())
	if err != nil {
		t.Fatalf("panel geometry: %v", err)
	}
	if len(verdict.PlatformSpecific) != 2 {
		t.Fatalf("windows platform details = %+v, want skipTaskbar+resizable", verdict.PlatformSpecific)
	}
}

func TestPanelGeometryMissingPanelHardFails(t *testing.T) {
	m := newTestMatrix(t, "linux", &fakeRegistry{}, &fakeBridge{})

	verdict, err := m.PanelGeometry(context.Background())
	if err != nil {
		t.Fatalf("panel geometry: %v", err)
	}
	if !verdict.Supported || !verdict.Verified || verdict.Passed {
		t.Fatalf("verdict = %+v, want a hard failure", verdict)
	}
	if verdict.Reason != "panel window not found" {
		t.Fatalf("reason = %q", verdict.Reason)
	}
	if !verdict.Failed() {
		t.Fatal("missing panel must fail the run")
	}
}

func TestPanelPositionComparesAgainstWorkArea(t *testing.T) {
	br := &fakeBridge{workArea: bridge.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}}
	m := newTestMatrix(t, "linux", &fakeRegistry{handle: goodPanel()}, br)

	verdict, err := m.PanelPosition(context.Background())
	if err != nil {
		t.Fatalf("panel position: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("verdict = %+v, want pass at (1650, 10)", verdict)
	}

	br.workArea.Width = 1600
	verdict, err = m.PanelPosition(context.Background())
	if err != nil {
		t.Fatalf("panel position: %v", err)
	}
	if verdict.Passed {
		t.Fatalf("verdict = %+v, want mismatch after work area change", verdict)
	}
}

func TestDockNotApplicableOffMac(t *testing.T) {
	br := &fakeBridge{dock: true}
	m := newTestMatrix(t, "linux", &fakeRegistry{}, br)

	verdict, err := m.DockVisibility(context.Background())
	if err != nil {
		t.Fatalf("dock: %v", err)
	}
	if verdict.Supported {
		t.Fatalf("verdict = %+v, want unsupported off mac", verdict)
	}
	if verdict.Failed() {
		t.Fatal("unsupported verdict must not fail the run")
	}
	if br.calls != 0 {
		t.Fatalf("bridge calls = %d, want 0 for an unsupported check", br.calls)
	}
}

func TestDockHiddenOnMac(t *testing.T) {
	m := newTestMatrix(t, "darwin", &fakeRegistry{}, &fakeBridge{dock: false})
	verdict, err := m.DockVisibility(context.Background())
	if err != nil {
		t.Fatalf("dock: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("verdict = %+v, want pass for a hidden dock icon", verdict)
	}

	m = newTestMatrix(t, "darwin", &fakeRegistry{}, &fakeBridge{dock: true})
	verdict, err = m.DockVisibility(context.Background())
	if err != nil {
		t.Fatalf("dock: %v", err)
	}
	if verdict.Passed {
		t.Fatalf("verdict = %+v, want failure for a visible dock icon", verdict)
	}
}

func TestTrayMirrorsDockGating(t *testing.T) {
	br := &fakeBridge{tray: true}
	mac := newTestMatrix(t, "darwin", &fakeRegistry{}, br)
	verdict, err := mac.TrayVisibility(context.Background())
	if err != nil {
		t.Fatalf("tray: %v", err)
	}
	if verdict.Supported || br.calls != 0 {
		t.Fatalf("verdict = %+v calls = %d, want unsupported with no bridge traffic", verdict, br.calls)
	}

	linux := newTestMatrix(t, "linux", &fakeRegistry{}, &fakeBridge{tray: true})
	verdict, err = linux.TrayVisibility(context.Background())
	if err != nil {
		t.Fatalf("tray: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("verdict = %+v, want pass when the tray exists", verdict)
	}
}

func TestAccessibilityAutoSatisfiedOffMac(t *testing.T) {
	br := &fakeBridge{}
	m := newTestMatrix(t, "windows", &fakeRegistry{}, br)

	verdict, err := m.AccessibilityPermission(context.Background())
	if err != nil {
		t.Fatalf("accessibility: %v", err)
	}
	if !verdict.Supported || !verdict.Passed {
		t.Fatalf("verdict = %+v, want an automatically satisfied pass", verdict)
	}
	if br.calls != 0 {
		t.Fatalf("bridge calls = %d, want 0 off mac", br.calls)
	}
	for _, d := range verdict.Details {
		if d.Field == "required" && d.Got != false {
			t.Fatalf("required detail = %+v", d)
		}
	}
}

func TestAccessibilityQueriedOnMac(t *testing.T) {
	m := newTestMatrix(t, "darwin", &fakeRegistry{}, &fakeBridge{trusted: true})
	verdict, err := m.AccessibilityPermission(context.Background())
	if err != nil {
		t.Fatalf("accessibility: %v", err)
	}
	if !verdict.Passed {
		t.Fatalf("verdict = %+v, want pass when trusted", verdict)
	}

	m = newTestMatrix(t, "darwin", &fakeRegistry{}, &fakeBridge{trusted: false})
	verdict, err = m.AccessibilityPermission(context.Background())
	if err != nil {
		t.Fatalf("accessibility: %v", err)
	}
	if verdict.Passed {
		t.Fatalf("verdict = %+v, want failure when untrusted", verdict)
	}
}

func TestShortcutBindingsRecordedNotVerified(t *testing.T) {
	tests := []struct {
		os       string
		modifier string
	}{
		{"darwin", "Command"},
		{"windows", "Control"},
		{"linux", "Control"},
	}
	for _, tt := range tests {
		t.Run(tt.os, func(t *testing.T) {
			m := newTestMatrix(t, tt.os, &fakeRegistry{}, &fakeBridge{})
			verdict, err := m.ShortcutBindings(context.Background())
			if err != nil {
				t.Fatalf("shortcuts: %v", err)
			}
			if !verdict.Supported || verdict.Verified {
				t.Fatalf("verdict = %+v, want supported but unverified", verdict)
			}
			if verdict.Failed() {
				t.Fatal("unverified verdict must not fail the run")
			}
			want := tt.modifier + "+Shift+Space"
			var found bool
			for _, d := range verdict.Details {
				if d.Field == ShortcutToggleRecording {
					found = true
					if d.Want != want {
						t.Fatalf("binding = %v, want %q", d.Want, want)
					}
				}
			}
			if !found {
				t.Fatalf("no %s detail in %+v", ShortcutToggleRecording, verdict.Details)
			}
		})
	}
}

func TestCheckNamesStable(t *testing.T) {
	m := newTestMatrix(t, "linux", &fakeRegistry{}, &fakeBridge{})
	names := m.CheckNames()
	want := []string{
		CheckAccessibility,
		CheckDock,
		CheckPanelGeometry,
		CheckPanelPosition,
		CheckShortcuts,
		CheckTray,
	}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	global := AllCheckNames()
	for i := range names {
		if global[i] != names[i] {
			t.Fatalf("AllCheckNames = %v, want %v", global, names)
		}
	}
}
