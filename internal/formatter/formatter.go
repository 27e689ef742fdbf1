package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/formatters"
	messages "github.com/cucumber/messages/go/v21"
)

// Name is the godog format name of the events formatter
const Name = "wildcheck"

// EventPrefix starts every event line so events can be told apart from logs
const EventPrefix = "WILDCHECK_EVENT:"

// Event types for structured output
const (
	EventFeatureStart  = "feature_start"
	EventFeatureEnd    = "feature_end"
	EventScenarioStart = "scenario_start"
	EventScenarioEnd   = "scenario_end"
	EventStepEnd       = "step_end"
	EventSummary       = "summary"
)

// Event represents a structured test event
type Event struct {
	Type     string `json:"type"`
	Feature  string `json:"feature,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Step     string `json:"step,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	File     string `json:"file,omitempty"`

	// Summary fields
	Total     int `json:"total,omitempty"`
	Passed    int `json:"passed,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Skipped   int `json:"skipped,omitempty"`
	Undefined int `json:"undefined,omitempty"`
}

// EventFormatter outputs one JSON event per line for CI log parsing
type EventFormatter struct {
	out io.Writer

	currentFeature     string
	currentFeatureFile string
	currentScenario    string
	currentScenarioErr string

	hadFailure   bool
	hadUndefined bool
	ran          bool

	scenarioTotal     int
	scenarioPassed    int
	scenarioFailed    int
	scenarioSkipped   int
	scenarioUndefined int
	stepsPassed       int
	stepsFailed       int
	stepsSkipped      int
	stepsUndefined    int
}

func init() {
	godog.Format(Name, "Structured JSON events, one per line", New)
}

func New(suite string, out io.Writer) formatters.Formatter {
	return &EventFormatter{out: out}
}

func (f *EventFormatter) emit(event Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(f.out, "%s%s\n", EventPrefix, data)
}

func (f *EventFormatter) TestRunStarted() {}

func (f *EventFormatter) Feature(doc *messages.GherkinDocument, uri string, content []byte) {
	f.endScenario()
	if f.currentFeature != "" {
		f.emit(Event{Type: EventFeatureEnd, Feature: f.currentFeature})
	}

	if doc.Feature != nil {
		f.currentFeature = doc.Feature.Name
		f.currentFeatureFile = uri
		f.emit(Event{
			Type:    EventFeatureStart,
			Feature: doc.Feature.Name,
			File:    uri,
		})
	}
}

func (f *EventFormatter) Pickle(pickle *messages.Pickle) {
	f.endScenario()

	f.currentScenario = pickle.Name
	f.currentScenarioErr = ""
	f.hadFailure = false
	f.hadUndefined = false
	f.ran = false
	f.scenarioTotal++

	f.emit(Event{
		Type:     EventScenarioStart,
		Feature:  f.currentFeature,
		Scenario: pickle.Name,
		File:     f.currentFeatureFile,
	})
}

func (f *EventFormatter) endScenario() {
	if f.currentScenario == "" {
		return
	}

	var status string
	switch {
	case f.hadFailure:
		status = "failed"
		f.scenarioFailed++
	case f.hadUndefined:
		status = "undefined"
		f.scenarioUndefined++
	case !f.ran:
		status = "skipped"
		f.scenarioSkipped++
	default:
		status = "passed"
		f.scenarioPassed++
	}

	f.emit(Event{
		Type:     EventScenarioEnd,
		Feature:  f.currentFeature,
		Scenario: f.currentScenario,
		Status:   status,
		Error:    f.currentScenarioErr,
	})

	f.currentScenario = ""
}

func (f *EventFormatter) step(pickle *messages.Pickle, step *messages.PickleStep, status string, err error) {
	ev := Event{
		Type:     EventStepEnd,
		Feature:  f.currentFeature,
		Scenario: pickle.Name,
		Step:     step.Text,
		Status:   status,
	}
	if err != nil {
		ev.Error = err.Error()
		if f.currentScenarioErr == "" {
			f.currentScenarioErr = ev.Error
		}
	}
	f.emit(ev)
}

func (f *EventFormatter) Defined(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
}

func (f *EventFormatter) Passed(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.stepsPassed++
	f.ran = true
	f.step(pickle, step, "passed", nil)
}

func (f *EventFormatter) Failed(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition, err error) {
	f.stepsFailed++
	f.ran = true
	f.hadFailure = true
	f.step(pickle, step, "failed", err)
}

func (f *EventFormatter) Skipped(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.stepsSkipped++
	f.step(pickle, step, "skipped", nil)
}

// Undefined steps fail the scenario and are reported as harness defects
func (f *EventFormatter) Undefined(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.stepsUndefined++
	f.ran = true
	f.hadUndefined = true
	f.step(pickle, step, "undefined", fmt.Errorf("undefined step: %s", step.Text))
}

func (f *EventFormatter) Pending(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition) {
	f.stepsSkipped++
	f.step(pickle, step, "pending", nil)
}

func (f *EventFormatter) Ambiguous(pickle *messages.Pickle, step *messages.PickleStep, def *formatters.StepDefinition, err error) {
	f.stepsFailed++
	f.ran = true
	f.hadFailure = true
	if err == nil {
		err = fmt.Errorf("ambiguous step: %s", step.Text)
	}
	f.step(pickle, step, "ambiguous", err)
}

func (f *EventFormatter) Summary() {
	f.endScenario()

	if f.currentFeature != "" {
		f.emit(Event{Type: EventFeatureEnd, Feature: f.currentFeature})
	}

	f.emit(Event{
		Type:      EventSummary,
		Total:     f.scenarioTotal,
		Passed:    f.scenarioPassed,
		Failed:    f.scenarioFailed,
		Skipped:   f.scenarioSkipped,
		Undefined: f.scenarioUndefined,
	})

	fmt.Fprintln(f.out)
	fmt.Fprintf(f.out, "%d scenarios (%d passed", f.scenarioTotal, f.scenarioPassed)
	if f.scenarioFailed > 0 {
		fmt.Fprintf(f.out, ", %d failed", f.scenarioFailed)
	}
	if f.scenarioUndefined > 0 {
		fmt.Fprintf(f.out, ", %d undefined", f.scenarioUndefined)
	}
	if f.scenarioSkipped > 0 {
		fmt.Fprintf(f.out, ", %d skipped", f.scenarioSkipped)
	}
	fmt.Fprintln(f.out, ")")

	totalSteps := f.stepsPassed + f.stepsFailed + f.stepsSkipped + f.stepsUndefined
	fmt.Fprintf(f.out, "%d steps (%d passed", totalSteps, f.stepsPassed)
	if f.stepsFailed > 0 {
		fmt.Fprintf(f.out, ", %d failed", f.stepsFailed)
	}
	if f.stepsUndefined > 0 {
		fmt.Fprintf(f.out, ", %d undefined", f.stepsUndefined)
	}
	if f.stepsSkipped > 0 {
		fmt.Fprintf(f.out, ", %d skipped", f.stepsSkipped)
	}
	fmt.Fprintln(f.out, ")")
}
