package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/dbcheck"
	"github.com/tomatool/wildcheck/internal/httpclient"
	"github.com/tomatool/wildcheck/internal/readiness"
	"github.com/tomatool/wildcheck/internal/stack"
	"github.com/urfave/cli/v2"
)

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "Probe every service once and report which are reachable",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "retry until healthy or the wait timeout expires",
		},
		&cli.BoolFlag{
			Name:  "db",
			Usage: "also check the PostgreSQL databases",
		},
	},
	Action: runCheck,
}

type checkResult struct {
	name string
	err  error
}

func runCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	if c.Bool("wait") {
		if err := waitForStack(ctx, cfg); err != nil {
			return err
		}
	}

	session := httpclient.NewSession()
	defer session.Close()

	var results []checkResult
	for _, t := range readiness.Targets(cfg) {
		results = append(results, checkResult{name: t.Name, err: readiness.Check(ctx, session, t, cfg.Timeouts.Default)})
	}

	if cfg.Stack.ComposeProject != "" {
		err := stack.Verify(ctx, stack.DockerLister{}, cfg.Stack.ComposeProject, cfg.Stack.Services)
		results = append(results, checkResult{name: "compose " + cfg.Stack.ComposeProject, err: err})
	}

	if c.Bool("db") {
		results = append(results, checkDatabases(ctx, cfg, dbcheck.Open)...)
	}

	failed := printChecks(os.Stdout, results)
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

type openProber func(ctx context.Context, driver, dsn string) (dbcheck.Prober, error)

// checkDatabases probes the server behind each database URI and expects the
// database named in the URI path to exist there.
func checkDatabases(ctx context.Context, cfg *config.Config, open openProber) []checkResult {
	db := cfg.Databases
	var results []checkResult

	for _, target := range []struct{ label, uri string }{
		{"wildbook", db.WildbookURI},
		{"wbia", db.WBIAURI},
	} {
		name, err := dbcheck.DatabaseName(target.uri)
		if err != nil {
			results = append(results, checkResult{name: "postgres " + target.label, err: err})
			continue
		}
		results = append(results, probeDatabase(ctx, open, db, target.label, target.uri, name)...)
	}
	return results
}

func probeDatabase(ctx context.Context, open openProber, db config.Databases, label, uri, name string) []checkResult {
	server := "postgres " + label
	dsn, err := dbcheck.AdminDSN(uri, db.AdminUser)
	if err != nil {
		return []checkResult{{name: server, err: err}}
	}

	p, err := open(ctx, db.Driver, dsn)
	if err != nil {
		return []checkResult{{name: server, err: err}}
	}
	defer p.Close()

	results := []checkResult{{name: server, err: p.Ping(ctx)}}
	ok, err := p.DatabaseExists(ctx, name)
	if err == nil && !ok {
		err = fmt.Errorf("database %q does not exist", name)
	}
	return append(results, checkResult{name: "database " + name, err: err})
}

func printChecks(w io.Writer, results []checkResult) int {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	failed := 0
	for _, r := range results {
		if r.err == nil {
			fmt.Fprintf(w, "  %s %s\n", ok("✓"), r.name)
			continue
		}
		failed++
		fmt.Fprintf(w, "  %s %s\n", bad("✗"), r.name)
		for _, line := range strings.Split(r.err.Error(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(w, "      %s\n", dim(line))
			}
		}
	}
	return failed
}
