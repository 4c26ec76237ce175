package behavior

import "runtime"

// Profile is the immutable per-run platform classification driving
// conditional behavior expectations. Derived once, never mutated.
type Profile struct {
	OS        string `json:"os"`
	IsMac     bool   `json:"isMac"`
	IsWindows bool   `json:"isWindows"`
	IsLinux   bool   `json:"isLinux"`
}

// Current derives the profile from the execution environment.
func Current() Profile {
	return ProfileFor(runtime.GOOS)
}

// ProfileFor builds a profile for an explicit GOOS value.
func ProfileFor(osName string) Profile {
	return Profile{
		OS:        osName,
		IsMac:     osName == "darwin",
		IsWindows: osName == "windows",
		IsLinux:   osName == "linux",
	}
}
