// Package report collects scenario outcomes of a run and renders the run
// summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/wildcheck/internal/world"
)

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusUndefined marks a step with no definition, a harness defect
	// rather than a failure of the system under test
	StatusUndefined Status = "undefined"
)

type Scenario struct {
	Feature  string                `json:"feature"`
	Name     string                `json:"name"`
	URI      string                `json:"uri,omitempty"`
	Status   Status                `json:"status"`
	Error    string                `json:"error,omitempty"`
	Cleanup  []world.CleanupResult `json:"cleanup,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// CleanupFailures counts resources whose cleanup failed
func (s Scenario) CleanupFailures() int {
	n := 0
	for _, c := range s.Cleanup {
		if !c.OK() {
			n++
		}
	}
	return n
}

type Report struct {
	RunID     string     `json:"run_id"`
	Started   time.Time  `json:"started"`
	Finished  time.Time  `json:"finished,omitempty"`
	Scenarios []Scenario `json:"scenarios"`
}

func New(runID string) *Report {
	return &Report{RunID: runID, Started: time.Now(), Scenarios: []Scenario{}}
}

func (r *Report) Add(s Scenario) {
	r.Scenarios = append(r.Scenarios, s)
}

func (r *Report) Finish() {
	r.Finished = time.Now()
}

type Summary struct {
	Total           int `json:"total"`
	Passed          int `json:"passed"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
	Undefined       int `json:"undefined"`
	CleanupFailures int `json:"cleanup_failures"`
}

func (r *Report) Summary() Summary {
	var s Summary
	for _, sc := range r.Scenarios {
		s.Total++
		switch sc.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusUndefined:
			s.Undefined++
		}
		s.CleanupFailures += sc.CleanupFailures()
	}
	return s
}

// OK reports whether no scenario failed or hit an undefined step. Cleanup
// failures never make a run fail.
func (r *Report) OK() bool {
	s := r.Summary()
	return s.Failed == 0 && s.Undefined == 0
}

// Failing returns the failed and undefined scenarios
func (r *Report) Failing() []Scenario {
	var out []Scenario
	for _, sc := range r.Scenarios {
		if sc.Status == StatusFailed || sc.Status == StatusUndefined {
			out = append(out, sc)
		}
	}
	return out
}

// RerunCommand builds a shell command that reruns the failing scenarios
func (r *Report) RerunCommand(program string) string {
	failing := r.Failing()
	if len(failing) == 0 {
		return ""
	}

	seen := make(map[string]bool)
	var names []string
	for _, sc := range failing {
		if seen[sc.Name] {
			continue
		}
		seen[sc.Name] = true
		names = append(names, regexp.QuoteMeta(sc.Name))
	}

	pattern := "^(" + strings.Join(names, "|") + ")$"
	args := []string{program, "run", "--scenario", pattern}
	for i, a := range args {
		args[i] = shellescape.Quote(a)
	}
	return strings.Join(args, " ")
}

func (r *Report) WriteJSON(w io.Writer) error {
	out := struct {
		*Report
		Summary Summary `json:"summary"`
	}{r, r.Summary()}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ReadSummary reads the summary back from a report written by WriteJSON
func ReadSummary(r io.Reader) (Summary, error) {
	var in struct {
		Summary *Summary `json:"summary"`
	}
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return Summary{}, fmt.Errorf("decoding report: %w", err)
	}
	if in.Summary == nil {
		return Summary{}, fmt.Errorf("report has no summary")
	}
	return *in.Summary, nil
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	defectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	featureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

func icon(s Status) string {
	switch s {
	case StatusPassed:
		return passStyle.Render("✓")
	case StatusFailed:
		return failStyle.Render("✗")
	case StatusUndefined:
		return defectStyle.Render("?")
	default:
		return skipStyle.Render("-")
	}
}

// Print writes the human readable summary
func (r *Report) Print(w io.Writer, program string) {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Run " + r.RunID))
	b.WriteString("\n")

	feature := ""
	for _, sc := range r.Scenarios {
		if sc.Feature != feature {
			feature = sc.Feature
			b.WriteString("\n")
			b.WriteString(featureStyle.Render(feature))
			b.WriteString("\n")
		}

		fmt.Fprintf(&b, "  %s %s %s\n", icon(sc.Status), sc.Name, skipStyle.Render(sc.Duration.Round(time.Millisecond).String()))
		if sc.Error != "" {
			fmt.Fprintf(&b, "      %s\n", detailStyle.Render(sc.Error))
		}
		for _, c := range sc.Cleanup {
			if !c.OK() {
				fmt.Fprintf(&b, "      %s\n", defectStyle.Render(fmt.Sprintf("cleanup of %s failed: %s", c.Resource, c.Err)))
			}
		}
	}

	s := r.Summary()
	parts := []string{passStyle.Render(fmt.Sprintf("%d passed", s.Passed))}
	if s.Failed > 0 {
		parts = append(parts, failStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Skipped > 0 {
		parts = append(parts, skipStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	if s.Undefined > 0 {
		parts = append(parts, defectStyle.Render(fmt.Sprintf("%d undefined", s.Undefined)))
	}
	fmt.Fprintf(&b, "\n%d scenarios (%s)\n", s.Total, strings.Join(parts, ", "))

	if s.Undefined > 0 {
		b.WriteString(defectStyle.Render("Undefined steps are harness defects: add a step definition or fix the feature text."))
		b.WriteString("\n")
	}
	if s.CleanupFailures > 0 {
		fmt.Fprintf(&b, "%s\n", defectStyle.Render(fmt.Sprintf("%d resource cleanup(s) failed", s.CleanupFailures)))
	}
	if cmd := r.RerunCommand(program); cmd != "" {
		fmt.Fprintf(&b, "\nRerun failing scenarios:\n  %s\n", cmd)
	}

	io.WriteString(w, b.String())
}
