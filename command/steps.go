package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/steps"
	"github.com/urfave/cli/v2"
)

var stepsCommand = &cli.Command{
	Name:  "steps",
	Usage: "List available Gherkin steps",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "Filter steps by keyword",
		},
		&cli.StringFlag{
			Name:    "category",
			Aliases: []string{"t"},
			Usage:   "Filter by step category (health, wbia, response)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output in JSON format",
		},
	},
	Action: runSteps,
}

func runSteps(ctx *cli.Context) error {
	registry, err := steps.NewRegistry()
	if err != nil {
		return err
	}

	categories := filterCategories(registry.Categories(), ctx.String("category"), ctx.String("filter"))

	if ctx.Bool("json") {
		output, err := json.MarshalIndent(categories, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	printSteps(os.Stdout, categories)
	return nil
}

func filterCategories(categories []stepdef.StepCategory, category, filter string) []stepdef.StepCategory {
	category = strings.ToLower(category)
	filter = strings.ToLower(filter)

	var out []stepdef.StepCategory
	for _, cat := range categories {
		// match against name or name prefix
		if category != "" {
			name := strings.ToLower(cat.Name)
			if name != category && !strings.HasPrefix(name, category) {
				continue
			}
		}

		var matching []stepdef.StepDef
		for _, step := range cat.Steps {
			if filter != "" &&
				!strings.Contains(strings.ToLower(step.Description), filter) &&
				!strings.Contains(strings.ToLower(step.Pattern), filter) {
				continue
			}
			matching = append(matching, step)
		}

		if len(matching) == 0 {
			continue
		}

		out = append(out, stepdef.StepCategory{
			Name:        cat.Name,
			Description: cat.Description,
			Steps:       matching,
		})
	}
	return out
}

var (
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	patternStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boldStyle     = lipgloss.NewStyle().Bold(true)
)

func printSteps(w io.Writer, categories []stepdef.StepCategory) {
	for _, cat := range categories {
		fmt.Fprintf(w, "\n%s\n", categoryStyle.Render(cat.Name))
		fmt.Fprintf(w, "%s\n\n", mutedStyle.Render(cat.Description))

		for _, step := range cat.Steps {
			fmt.Fprintf(w, "  %s\n", boldStyle.Render(step.Description))
			fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(string(step.Keyword)), patternStyle.Render(step.Pattern))
			if step.Example != "" {
				fmt.Fprintf(w, "  %s\n\n", mutedStyle.Render("Example: "+step.Example))
			}
		}
	}
}
