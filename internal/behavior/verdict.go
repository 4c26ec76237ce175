package behavior

// Detail records one field comparison inside a verdict.
type Detail struct {
	Field string `json:"field"`
	Want  any    `json:"want"`
	Got   any    `json:"got"`
	OK    bool   `json:"ok"`
}

// Verdict is the structured outcome of one behavior expectation.
//
// Supported == false marks explicit non-applicability on this platform,
// a first-class result distinct from pass/fail so aggregation can tell
// "does not apply here" from "failed here". Verified == false marks a check
// whose expectations were recorded but not exercised against the target;
// it never counts as a pass.
type Verdict struct {
	Name             string   `json:"name"`
	Supported        bool     `json:"supported"`
	Passed           bool     `json:"passed"`
	Verified         bool     `json:"verified"`
	Reason           string   `json:"reason,omitempty"`
	Details          []Detail `json:"details,omitempty"`
	PlatformSpecific []Detail `json:"platformSpecific,omitempty"`
}

// Failed reports whether this verdict should fail the run: only supported,
// actually-verified checks that did not pass count.
func (v Verdict) Failed() bool {
	return v.Supported && v.Verified && !v.Passed
}

func notApplicable(name string) Verdict {
	return Verdict{Name: name, Supported: false}
}

func detail(field string, want, got any) Detail {
	return Detail{Field: field, Want: want, Got: got, OK: want == got}
}

func allOK(details []Detail) bool {
	for _, d := range details {
		if !d.OK {
			return false
		}
	}
	return true
}
