package command

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/wildcheck/internal/version"
	"github.com/urfave/cli/v2"
)

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "wildcheck.yml",
		Usage:   "config file path, skipped when missing",
		EnvVars: []string{"WILDCHECK_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "env-file",
		Aliases: []string{"e"},
		Usage:   "load environment variables from a .env file",
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "log level (debug, info, warn, error)",
		EnvVars: []string{"LOG_LEVEL"},
		Value:   "info",
	},
}

func Run(args []string) error {
	app := &cli.App{
		Name:    "wildcheck",
		Usage:   "Behavioral integration tests for a Wildbook, WBIA and OpenSearch deployment",
		Version: version.String(),
		Description: `wildcheck runs Gherkin feature files against a running Wildbook stack:
the Wildbook web application, the WBIA image analysis engine, OpenSearch
and their PostgreSQL databases. Every check is an HTTP or SQL probe.

Service URLs come from the environment (WILDBOOK_URL, WBIA_URL, ...) and an
optional wildcheck.yml.`,
		Flags:  globalFlags,
		Before: setup,
		Commands: []*cli.Command{
			runCommand,
			checkCommand,
			validateCommand,
			stepsCommand,
			docsCommand,
			runsCommand,
			initCommand,
			versionCommand,
		},
	}

	return app.Run(args)
}

func setup(c *cli.Context) error {
	if envFile := c.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
	}
	return setupLogger(os.Stderr, c.String("log-level"))
}

// setupLogger points the global logger at a console writer on out
func setupLogger(out io.Writer, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	return nil
}

// configPath returns the config file to load, or "" when the default file does not exist
func configPath(c *cli.Context) string {
	path := c.String("config")
	if _, err := os.Stat(path); err != nil && !c.IsSet("config") {
		return ""
	}
	return path
}
