package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/tomatool/wildcheck/internal/report"
	"github.com/tomatool/wildcheck/internal/runlog"
	"github.com/urfave/cli/v2"
)

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "List stored run directories, most recent first",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Value:   10,
			Usage:   "number of runs to show, 0 for all",
		},
		&cli.IntFlag{
			Name:  "keep",
			Value: -1,
			Usage: "delete all but the N most recent runs",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output in JSON format",
		},
	},
	Action: listRuns,
}

type runEntry struct {
	*runlog.Run
	Summary   *report.Summary   `json:"summary,omitempty"`
	Artefacts []runlog.Artefact `json:"artefacts"`
}

func listRuns(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	base := cfg.Settings.RunDir

	if keep := c.Int("keep"); c.IsSet("keep") {
		removed, err := runlog.Prune(base, keep)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d run(s)\n", len(removed))
	}

	runs, err := runlog.List(base)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if n := c.Int("limit"); n > 0 && len(runs) > n {
		runs = runs[:n]
	}

	entries := make([]runEntry, 0, len(runs))
	for _, run := range runs {
		entries = append(entries, describeRun(run))
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	printRuns(os.Stdout, entries)
	return nil
}

func describeRun(run *runlog.Run) runEntry {
	entry := runEntry{Run: run}
	entry.Artefacts, _ = run.Artefacts()

	if !run.HasReport() {
		return entry
	}
	f, err := os.Open(run.Path(runlog.ReportFile))
	if err != nil {
		return entry
	}
	defer f.Close()
	if s, err := report.ReadSummary(f); err == nil {
		entry.Summary = &s
	}
	return entry
}

func printRuns(w io.Writer, entries []runEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs yet.")
		return
	}

	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	for _, e := range entries {
		var outcome string
		switch s := e.Summary; {
		case s == nil:
			outcome = dim("no report")
		case s.Failed+s.Undefined == 0:
			outcome = ok(fmt.Sprintf("%d passed", s.Passed))
		default:
			outcome = bad(fmt.Sprintf("%d failed, %d undefined of %d", s.Failed, s.Undefined, s.Total))
		}
		fmt.Fprintf(w, "%s  %s  %s\n", bold(e.ID), e.Started.Format("2006-01-02 15:04:05"), outcome)
		fmt.Fprintf(w, "    %s\n", dim(e.Dir))
	}
}
