package suite

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ban5104/SpeakMCP-sub001/internal/behavior"
	"github.com/ban5104/SpeakMCP-sub001/internal/events"
)

// TimelineEntry is one normalized bus event captured during a run.
type TimelineEntry struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Severity  string    `json:"severity,omitempty"`
}

// Report is the machine-readable outcome of one suite run. It is the
// handoff format for external reporting sinks: `run --json` writes it and
// `report` re-renders it without re-running anything.
type Report struct {
	RunID     string             `json:"runId"`
	Profile   behavior.Profile   `json:"profile"`
	StartedAt time.Time          `json:"startedAt"`
	Duration  time.Duration      `json:"duration"`
	Results   []behavior.Verdict `json:"results"`
	Timeline  []TimelineEntry    `json:"timeline,omitempty"`
}

// Failed reports whether any verdict should fail the run. Unsupported and
// unverified verdicts never count.
func (r *Report) Failed() bool {
	for _, verdict := range r.Results {
		if verdict.Failed() {
			return true
		}
	}
	return false
}

// Render formats the report for terminal output.
func (r *Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s on %s (%s)\n", r.RunID, r.Profile.OS, r.Duration.Round(time.Millisecond))
	for _, verdict := range r.Results {
		fmt.Fprintf(&b, "  %s %s%s\n", glyph(verdict), verdict.Name, annotation(verdict))
		for _, detail := range verdict.Details {
			if detail.OK {
				continue
			}
			fmt.Fprintf(&b, "      %s: want %v, got %v\n", detail.Field, detail.Want, detail.Got)
		}
		for _, detail := range verdict.PlatformSpecific {
			if detail.OK {
				continue
			}
			fmt.Fprintf(&b, "      %s (platform): want %v, got %v\n", detail.Field, detail.Want, detail.Got)
		}
	}

	passed, failed, skipped := r.tally()
	fmt.Fprintf(&b, "%d passed, %d failed, %d skipped\n", passed, failed, skipped)
	return b.String()
}

func (r *Report) tally() (passed, failed, skipped int) {
	for _, verdict := range r.Results {
		switch {
		case !verdict.Supported:
			skipped++
		case verdict.Failed():
			failed++
		case verdict.Verified && verdict.Passed:
			passed++
		default:
			skipped++
		}
	}
	return passed, failed, skipped
}

func glyph(v behavior.Verdict) string {
	switch {
	case !v.Supported:
		return "-"
	case !v.Verified:
		return "?"
	case v.Passed:
		return "ok"
	default:
		return "FAIL"
	}
}

func annotation(v behavior.Verdict) string {
	switch {
	case !v.Supported:
		return " (not applicable on this platform)"
	case v.Reason != "":
		return ": " + v.Reason
	default:
		return ""
	}
}

// WriteFile persists the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// ReadFile loads a previously written report.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return &report, nil
}

func timelineFromEvents(captured []events.Event) []TimelineEntry {
	if len(captured) == 0 {
		return nil
	}
	entries := make([]TimelineEntry, 0, len(captured))
	for _, event := range captured {
		entries = append(entries, TimelineEntry{
			Time:      event.Timestamp,
			Type:      event.Type,
			SessionID: event.SessionID,
			Subject:   event.Subject,
			Severity:  event.Severity,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time.Before(entries[j].Time) })
	return entries
}
