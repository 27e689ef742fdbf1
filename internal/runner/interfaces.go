package runner

import (
	"github.com/cucumber/godog"
)

// ScenarioContext abstracts godog.ScenarioContext for testing
type ScenarioContext interface {
	Before(h godog.BeforeScenarioHook)
	After(h godog.AfterScenarioHook)
	Step(expr interface{}, stepFunc interface{})
}

// SuiteContext abstracts godog.TestSuiteContext for testing
type SuiteContext interface {
	BeforeSuite(fn func())
	AfterSuite(fn func())
}
