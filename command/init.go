package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	unchanged     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Scaffold wildcheck.yml and an example feature",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files",
		},
		&cli.StringFlag{
			Name:  "dir",
			Value: ".",
			Usage: "project directory",
		},
	},
	Action: runInit,
}

const configTemplate = `# wildcheck configuration. Environment variables override every value.
services:
  wildbook: ${WILDBOOK_URL}
  wbia: ${WBIA_URL}
  opensearch: ${OPENSEARCH_URL}

databases:
  driver: postgres
  wildbook_uri: ${WILDBOOK_DB_URI}
  wbia_uri: ${WBIA_DB_URI}

timeouts:
  default: 30s
  long: 120s
  wait: 2m

test_data_dir: features/test_data

stack:
  compose_project: ""
  services: [wildbook, wbia, opensearch, db]

features:
  paths: [./features]

settings:
  output: pretty
  fail_fast: false
  run_dir: .wildcheck/runs
`

const exampleFeature = `Feature: Stack health
  The deployed services answer their health endpoints.

  Scenario: WBIA answers
    Given WBIA service is running
    When I send a GET request to "/api/core/db/info/"
    Then the response status should be 200
    And the response should be valid JSON

  Scenario: Wildbook serves its homepage
    When I visit the Wildbook homepage
    Then the response status should be one of "200,302"
    And the page should contain the Wildbook marker

  Scenario: Search cluster is healthy
    When I send a GET request to "/_cluster/health" on OpenSearch
    Then the response status should be 200
    And the cluster status should be "green" or "yellow"
`

type scaffoldFile struct {
	path    string
	content string
}

func runInit(c *cli.Context) error {
	dir := c.String("dir")
	files := []scaffoldFile{
		{path: filepath.Join(dir, "wildcheck.yml"), content: configTemplate},
		{path: filepath.Join(dir, "features", "health.feature"), content: exampleFeature},
	}

	if err := os.MkdirAll(filepath.Join(dir, "features", "test_data"), 0755); err != nil {
		return fmt.Errorf("creating features directory: %w", err)
	}

	for _, f := range files {
		written, err := writeScaffold(f, c.Bool("force"))
		if err != nil {
			return err
		}
		if written {
			fmt.Println(successStyle.Render("✓ Created " + f.path))
		} else {
			fmt.Println(unchanged.Render("- Kept " + f.path + " (use --force to overwrite)"))
		}
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Put test images (e.g. zebra.jpg) in features/test_data")
	fmt.Println("  2. Export WILDBOOK_URL, WBIA_URL and OPENSEARCH_URL or edit wildcheck.yml")
	fmt.Println("  3. Run " + selectedStyle.Render("wildcheck run --wait"))
	fmt.Println()
	return nil
}

func writeScaffold(f scaffoldFile, force bool) (bool, error) {
	if _, err := os.Stat(f.path); err == nil && !force {
		return false, nil
	}
	if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
		return false, fmt.Errorf("creating %s: %w", f.path, err)
	}
	return true, nil
}
