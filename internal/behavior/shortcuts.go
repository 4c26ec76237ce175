package behavior

// Shortcut action names.
const (
	ShortcutToggleRecording = "toggle-recording"
	ShortcutOpenSettings    = "open-settings"
)

// ExpectedShortcuts returns the static per-platform binding table. Mac uses
// the Command modifier; windows and linux use Control. This package does not
// simulate key presses, it only asserts the expected binding set.
func ExpectedShortcuts(profile Profile) map[string]string {
	modifier := "Control"
	if profile.IsMac {
		modifier = "Command"
	}
	return map[string]string{
		ShortcutToggleRecording: modifier + "+Shift+Space",
		ShortcutOpenSettings:    modifier + "+,",
	}
}
