package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/feature"
	_ "github.com/tomatool/wildcheck/internal/formatter" // Register wildcheck formatter
	"github.com/tomatool/wildcheck/internal/httpclient"
	"github.com/tomatool/wildcheck/internal/report"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/version"
	"github.com/tomatool/wildcheck/internal/world"
)

// Options configures runner behavior
type Options struct {
	Format   string    // Override output format (e.g., "wildcheck" for structured events)
	Output   io.Writer // godog output, stdout when nil
	RunID    string
	Cleaner  world.Cleaner // RetainCleaner when nil
	TestingT *testing.T    // run scenarios as subtests
}

// Runner drives the run lifecycle around godog. It owns the World, which is
// created once in OnRunStart and reset before every scenario.
type Runner struct {
	config        *config.Config
	registry      *stepdef.Registry
	index         feature.Index
	cleaner       world.Cleaner
	opts          Options
	scenarioRegex *regexp.Regexp

	world      *world.World
	report     *report.Report
	featureURI string
	current    scenarioState
}

type scenarioState struct {
	name     string
	uri      string
	started  time.Time
	filtered bool
}

// New creates a runner for the features under cfg.Features.Paths
func New(cfg *config.Config, registry *stepdef.Registry, opts Options) (*Runner, error) {
	features, err := feature.Load(cfg.Features.Paths)
	if err != nil {
		return nil, fmt.Errorf("loading features: %w", err)
	}
	return newRunner(cfg, registry, feature.NewIndex(features), opts)
}

// newRunner is the internal constructor that allows dependency injection for testing
func newRunner(cfg *config.Config, registry *stepdef.Registry, index feature.Index, opts Options) (*Runner, error) {
	r := &Runner{
		config:   cfg,
		registry: registry,
		index:    index,
		cleaner:  opts.Cleaner,
		opts:     opts,
		report:   report.New(opts.RunID),
	}
	if r.cleaner == nil {
		r.cleaner = world.RetainCleaner{}
	}

	if cfg.Features.Scenario != "" {
		log.Debug().Str("pattern", cfg.Features.Scenario).Msg("compiling scenario filter regex")
		regex, err := regexp.Compile(cfg.Features.Scenario)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario filter regex: %w", err)
		}
		r.scenarioRegex = regex
		log.Info().Str("pattern", cfg.Features.Scenario).Msg("scenario filter active")
	}

	return r, nil
}

// World returns the run's World, nil before OnRunStart
func (r *Runner) World() *world.World { return r.world }

// Report returns the scenario outcomes recorded so far
func (r *Runner) Report() *report.Report { return r.report }

// OnRunStart creates the World and its HTTP session. Later calls are no-ops.
func (r *Runner) OnRunStart() {
	if r.world != nil {
		return
	}

	session := httpclient.NewSession(
		httpclient.WithTimeout(r.config.Timeouts.Default),
		httpclient.WithHeader("User-Agent", "wildcheck/"+version.String()),
	)
	r.world = world.New(r.config, session)

	log.Info().
		Str("wildbook", r.config.Services.Wildbook).
		Str("wbia", r.config.Services.WBIA).
		Str("opensearch", r.config.Services.OpenSearch).
		Msg("starting integration run")
}

func (r *Runner) OnFeatureStart(name string) {
	r.world.Feature = name
	log.Info().Str("feature", name).Msg("=== feature ===")
}

func (r *Runner) OnScenarioStart(name string) {
	r.world.ResetScenario(name)
	r.current.started = time.Now()
	log.Debug().Str("scenario", name).Msg("scenario started")
}

// OnScenarioEnd cleans up the scenario's resources and records its outcome.
// Cleanup failures are reported but never change the scenario status.
func (r *Runner) OnScenarioEnd(ctx context.Context, err error) report.Scenario {
	cleanupCtx, cancel := context.WithTimeout(ctx, r.config.Timeouts.Default)
	defer cancel()

	results := world.CleanupAll(cleanupCtx, r.world, r.cleaner)
	r.world.ReleaseDB()

	status, msg := classify(err)
	if r.current.filtered {
		status, msg = report.StatusSkipped, ""
	}

	sc := report.Scenario{
		Feature:  r.world.Feature,
		Name:     r.current.name,
		URI:      r.current.uri,
		Status:   status,
		Error:    msg,
		Cleanup:  results,
		Duration: time.Since(r.current.started),
	}
	r.report.Add(sc)

	event := log.Debug()
	if status == report.StatusFailed || status == report.StatusUndefined {
		event = log.Warn().Str("error", msg)
	}
	event.Str("scenario", sc.Name).Str("status", string(status)).Msg("scenario finished")

	return sc
}

// OnRunEnd releases the World and closes the report. Later calls are no-ops.
func (r *Runner) OnRunEnd() {
	if r.world == nil {
		return
	}
	r.world.Close()
	r.world = nil
	r.report.Finish()

	s := r.report.Summary()
	log.Info().
		Int("total", s.Total).
		Int("passed", s.Passed).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Int("undefined", s.Undefined).
		Msg("integration run finished")
}

// Run executes all features and returns the report. The error is non-nil when
// godog exits with a non-zero status.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	format := r.config.Settings.Output
	if r.opts.Format != "" {
		format = r.opts.Format
	}

	opts := &godog.Options{
		Format:         format,
		Paths:          r.config.Features.Paths,
		Tags:           r.config.Features.Tags,
		StopOnFailure:  r.config.Settings.FailFast,
		Strict:         true,
		Concurrency:    1,
		TestingT:       r.opts.TestingT,
		DefaultContext: ctx,
	}
	if r.opts.Output != nil {
		opts.Output = r.opts.Output
	}

	suite := godog.TestSuite{
		Name:                 "wildcheck",
		TestSuiteInitializer: r.initializeSuite,
		ScenarioInitializer:  r.initializeScenario,
		Options:              opts,
	}

	status := suite.Run()

	// AfterSuite is skipped when godog aborts early
	r.OnRunEnd()

	if status != 0 {
		return r.report, fmt.Errorf("tests failed with status %d", status)
	}
	return r.report, nil
}

func (r *Runner) initializeSuite(ctx *godog.TestSuiteContext) {
	r.setupSuiteHooks(ctx)
}

func (r *Runner) setupSuiteHooks(ctx SuiteContext) {
	ctx.BeforeSuite(r.OnRunStart)
	ctx.AfterSuite(r.OnRunEnd)
}

func (r *Runner) initializeScenario(ctx *godog.ScenarioContext) {
	r.setupScenarioHooks(ctx)
}

// setupScenarioHooks sets up before/after hooks and the step definitions.
// This internal method accepts an interface for testability
func (r *Runner) setupScenarioHooks(ctx ScenarioContext) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		r.OnRunStart()

		if sc.Uri != r.featureURI {
			r.featureURI = sc.Uri
			r.OnFeatureStart(r.index.Name(sc.Uri))
		}

		r.current = scenarioState{name: sc.Name, uri: sc.Uri}
		r.OnScenarioStart(sc.Name)

		// Skip scenarios that don't match the filter regex
		if r.scenarioRegex != nil && !r.scenarioRegex.MatchString(sc.Name) {
			log.Info().Str("scenario", sc.Name).Msg("skipping scenario (doesn't match filter)")
			r.current.filtered = true
			return ctx, godog.ErrSkip
		}

		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		r.OnScenarioEnd(ctx, err)
		return ctx, nil
	})

	r.registry.Bind(ctx, r.World)
}

func classify(err error) (report.Status, string) {
	switch {
	case err == nil:
		return report.StatusPassed, ""
	case errors.Is(err, godog.ErrUndefined):
		return report.StatusUndefined, err.Error()
	case errors.Is(err, godog.ErrSkip), errors.Is(err, godog.ErrPending):
		return report.StatusSkipped, ""
	default:
		return report.StatusFailed, err.Error()
	}
}
