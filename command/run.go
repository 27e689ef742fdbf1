package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/httpclient"
	"github.com/tomatool/wildcheck/internal/readiness"
	"github.com/tomatool/wildcheck/internal/runlog"
	"github.com/tomatool/wildcheck/internal/runner"
	"github.com/tomatool/wildcheck/internal/steps"
	"github.com/urfave/cli/v2"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run feature files against the stack",
	ArgsUsage: "[feature paths...]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "tags",
			Aliases: []string{"t"},
			Usage:   "tag expression, e.g. \"@wbia && ~@slow\"",
		},
		&cli.StringFlag{
			Name:    "scenario",
			Aliases: []string{"s"},
			Usage:   "only run scenarios whose name matches this regex",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "godog output format (pretty, progress, cucumber, wildcheck)",
		},
		&cli.BoolFlag{
			Name:  "fail-fast",
			Usage: "stop on the first failing scenario",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "wait for the services to become healthy before running",
		},
	},
	Action: runTests,
}

func runTests(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if c.NArg() > 0 {
		cfg.Features.Paths = c.Args().Slice()
	}
	if c.IsSet("tags") {
		cfg.Features.Tags = c.String("tags")
	}
	if c.IsSet("scenario") {
		cfg.Features.Scenario = c.String("scenario")
	}
	if c.IsSet("format") {
		cfg.Settings.Output = c.String("format")
	}
	if c.IsSet("fail-fast") {
		cfg.Settings.FailFast = c.Bool("fail-fast")
	}

	run, err := runlog.New(cfg.Settings.RunDir)
	if err != nil {
		return err
	}
	logFile, err := run.Append(runlog.LogFile)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer logFile.Close()
	log.Logger = log.Output(zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr}, logFile))

	log.Info().Str("run_id", run.ID).Str("dir", run.Dir).Msg("run started")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("wait") {
		if err := waitForStack(ctx, cfg); err != nil {
			return err
		}
	}

	registry, err := steps.NewRegistry()
	if err != nil {
		return err
	}

	r, err := runner.New(cfg, registry, runner.Options{RunID: run.ID})
	if err != nil {
		return err
	}

	rep, runErr := r.Run(ctx)

	if f, err := run.Create(runlog.ReportFile); err != nil {
		log.Warn().Err(err).Msg("failed to create report file")
	} else {
		if err := rep.WriteJSON(f); err != nil {
			log.Warn().Err(err).Msg("failed to write report")
		}
		f.Close()
	}

	rep.Print(os.Stdout, c.App.Name)

	if !rep.OK() {
		return errors.New(failureMessage(rep.Summary().Failed, rep.Summary().Undefined))
	}
	return runErr
}

func failureMessage(failed, undefined int) string {
	var parts []string
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d scenario(s) failed", failed))
	}
	if undefined > 0 {
		parts = append(parts, fmt.Sprintf("%d scenario(s) hit undefined steps", undefined))
	}
	return strings.Join(parts, ", ")
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(configPath(c))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func waitForStack(ctx context.Context, cfg *config.Config) error {
	session := httpclient.NewSession()
	defer session.Close()

	log.Info().Dur("max_wait", cfg.Timeouts.Wait).Msg("waiting for services")
	err := readiness.Wait(ctx, session, readiness.Targets(cfg), readiness.Options{
		MaxWait: cfg.Timeouts.Wait,
		Timeout: cfg.Timeouts.Default,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("services not ready: %w", err)
	}
	return nil
}
