package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/feature"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/steps"
	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate configuration and feature files without touching the stack",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "disable the interactive UI (for CI)",
		},
	},
	Action: runValidate,
}

const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
)

// ValidationResult holds the result of a validation check
type ValidationResult struct {
	Category   string
	Item       string
	Status     string
	Message    string
	Suggestion string
}

// Validator performs all validation checks
type Validator struct {
	configPath string
	config     *config.Config
	registry   *stepdef.Registry
	results    []ValidationResult
}

func runValidate(c *cli.Context) error {
	registry, err := steps.NewRegistry()
	if err != nil {
		return err
	}

	v := &Validator{
		configPath: configPath(c),
		registry:   registry,
	}

	if c.Bool("plain") {
		return v.runPlain(os.Stdout)
	}
	return v.runInteractive()
}

func (v *Validator) add(r ValidationResult) {
	v.results = append(v.results, r)
}

func (v *Validator) counts() (ok, warnings, errs int) {
	for _, r := range v.results {
		switch r.Status {
		case statusOK:
			ok++
		case statusWarning:
			warnings++
		case statusError:
			errs++
		}
	}
	return ok, warnings, errs
}

// grouped returns the results per category in first-seen order
func (v *Validator) grouped() ([]string, map[string][]ValidationResult) {
	categories := make(map[string][]ValidationResult)
	var order []string
	for _, r := range v.results {
		if _, exists := categories[r.Category]; !exists {
			order = append(order, r.Category)
		}
		categories[r.Category] = append(categories[r.Category], r)
	}
	return order, categories
}

// runPlain runs validation without the Bubble Tea UI
func (v *Validator) runPlain(w io.Writer) error {
	fmt.Fprintln(w, "Validating wildcheck configuration...")
	fmt.Fprintln(w)

	v.validate()

	okIcon := color.New(color.FgGreen).Sprint("✓")
	warnIcon := color.New(color.FgYellow).Sprint("!")
	errIcon := color.New(color.FgRed).Sprint("✗")
	hint := color.New(color.FgHiBlack).SprintFunc()

	order, categories := v.grouped()
	for _, category := range order {
		fmt.Fprintf(w, "[%s]\n", category)
		for _, r := range categories[category] {
			icon := okIcon
			switch r.Status {
			case statusError:
				icon = errIcon
			case statusWarning:
				icon = warnIcon
			}

			fmt.Fprintf(w, "  %s %s", icon, r.Item)
			if r.Message != "" {
				fmt.Fprintf(w, ": %s", r.Message)
			}
			fmt.Fprintln(w)

			if r.Suggestion != "" {
				fmt.Fprintf(w, "    %s\n", hint("→ "+r.Suggestion))
			}
		}
		fmt.Fprintln(w)
	}

	okCount, warningCount, errorCount := v.counts()
	fmt.Fprintf(w, "Summary: %d passed, %d warnings, %d errors\n", okCount, warningCount, errorCount)

	if errorCount > 0 {
		return fmt.Errorf("validation failed with %d error(s)", errorCount)
	}
	if warningCount > 0 {
		fmt.Fprintln(w, "Validation passed with warnings")
	} else {
		fmt.Fprintln(w, "Validation passed!")
	}
	return nil
}

// runInteractive runs validation with the Bubble Tea UI
func (v *Validator) runInteractive() error {
	p := tea.NewProgram(newValidateModel(v))
	m, err := p.Run()
	if err != nil {
		return err
	}

	if m.(validateModel).hasErrors {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// validate performs all validation checks
func (v *Validator) validate() {
	v.validateConfig()
	if v.config == nil {
		return
	}
	v.validateTestData()
	v.validateFeatureFiles()
}

func (v *Validator) validateConfig() {
	item := v.configPath
	if item == "" {
		item = "(environment)"
	}

	cfg, err := config.Load(v.configPath)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Config",
			Item:       item,
			Status:     statusError,
			Message:    err.Error(),
			Suggestion: "Check the config file syntax and the service URL variables",
		})
		return
	}
	v.config = cfg

	if v.configPath == "" {
		v.add(ValidationResult{
			Category:   "Config",
			Item:       item,
			Status:     statusWarning,
			Message:    "no config file, using environment and defaults",
			Suggestion: "Run 'wildcheck init' to create wildcheck.yml",
		})
	} else {
		v.add(ValidationResult{Category: "Config", Item: item, Status: statusOK, Message: "valid configuration"})
	}

	for _, svc := range []struct{ name, url string }{
		{"wildbook", cfg.Services.Wildbook},
		{"wbia", cfg.Services.WBIA},
		{"opensearch", cfg.Services.OpenSearch},
	} {
		v.add(ValidationResult{Category: "Services", Item: svc.name, Status: statusOK, Message: svc.url})
	}
}

func (v *Validator) validateTestData() {
	dir := v.config.TestDataDir
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		v.add(ValidationResult{
			Category:   "Test data",
			Item:       dir,
			Status:     statusWarning,
			Message:    "directory does not exist",
			Suggestion: fmt.Sprintf("Create the directory: mkdir -p %s", dir),
		})
	case !info.IsDir():
		v.add(ValidationResult{Category: "Test data", Item: dir, Status: statusError, Message: "not a directory"})
	default:
		v.add(ValidationResult{Category: "Test data", Item: dir, Status: statusOK})
	}
}

func (v *Validator) validateFeatureFiles() {
	files, err := feature.Files(v.config.Features.Paths)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       strings.Join(v.config.Features.Paths, ", "),
			Status:     statusError,
			Message:    err.Error(),
			Suggestion: "Set features.paths in wildcheck.yml or pass paths to 'wildcheck run'",
		})
		return
	}

	if len(files) == 0 {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       "(none)",
			Status:     statusWarning,
			Message:    "no feature files found",
			Suggestion: "Create .feature files in your features directory",
		})
		return
	}

	for _, file := range files {
		v.validateFeatureFile(file)
	}
}

func (v *Validator) validateFeatureFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		v.add(ValidationResult{Category: "Features", Item: filepath.Base(path), Status: statusError, Message: fmt.Sprintf("cannot read file: %v", err)})
		return
	}
	defer f.Close()

	feat, err := feature.Parse(path, f)
	if err != nil {
		v.add(ValidationResult{
			Category:   "Features",
			Item:       filepath.Base(path),
			Status:     statusError,
			Message:    fmt.Sprintf("parse error: %v", err),
			Suggestion: "Check Gherkin syntax: https://cucumber.io/docs/gherkin/reference/",
		})
		return
	}

	var undefined, ambiguous []string
	seen := make(map[string]bool)
	for _, sc := range feat.Scenarios {
		for _, step := range sc.Steps {
			if seen[step.Text] {
				continue
			}
			seen[step.Text] = true

			m, err := v.registry.Match(step.Text)
			switch {
			case errors.Is(err, stepdef.ErrUndefined):
				undefined = append(undefined, step.Text)
			case err != nil:
				ambiguous = append(ambiguous, step.Text)
			default:
				v.checkTestImage(path, m)
			}
		}
	}

	switch {
	case len(undefined) > 0:
		v.add(ValidationResult{
			Category:   "Features",
			Item:       filepath.Base(path),
			Status:     statusError,
			Message:    fmt.Sprintf("%d undefined step(s): %s", len(undefined), firstFew(undefined)),
			Suggestion: "Run 'wildcheck steps' to see available steps",
		})
	case len(ambiguous) > 0:
		v.add(ValidationResult{
			Category: "Features",
			Item:     filepath.Base(path),
			Status:   statusError,
			Message:  fmt.Sprintf("%d ambiguous step(s): %s", len(ambiguous), firstFew(ambiguous)),
		})
	default:
		v.add(ValidationResult{
			Category: "Features",
			Item:     filepath.Base(path),
			Status:   statusOK,
			Message:  fmt.Sprintf("%d scenario(s)", len(feat.Scenarios)),
		})
	}
}

// checkTestImage warns about images a feature names but the data dir lacks
func (v *Validator) checkTestImage(path string, m *stepdef.Match) {
	if m.Step.Pattern != steps.TestImagePattern {
		return
	}
	name := m.Args.String(0)
	if _, err := os.Stat(filepath.Join(v.config.TestDataDir, name)); err != nil {
		v.add(ValidationResult{
			Category:   "Test data",
			Item:       name,
			Status:     statusWarning,
			Message:    fmt.Sprintf("used by %s but missing", filepath.Base(path)),
			Suggestion: fmt.Sprintf("Copy the image into %s", v.config.TestDataDir),
		})
	}
}

func firstFew(items []string) string {
	shown := items
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return strings.Join(shown, ", ")
}

// Bubble Tea Model

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

type tickMsg struct{}

type validationDoneMsg struct{}

type validateModel struct {
	validator   *Validator
	frame       int
	done        bool
	hasErrors   bool
	hasWarnings bool
}

func newValidateModel(v *Validator) validateModel {
	return validateModel{validator: v}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m validateModel) Init() tea.Cmd {
	return tea.Batch(
		tick(),
		func() tea.Msg {
			m.validator.validate()
			return validationDoneMsg{}
		},
	)
}

func (m validateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case validationDoneMsg:
		m.done = true
		_, warnings, errs := m.validator.counts()
		m.hasErrors = errs > 0
		m.hasWarnings = warnings > 0
		return m, tea.Quit
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	}
	return m, nil
}

func (m validateModel) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	suggestionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)

	s.WriteString("\n")
	s.WriteString(titleStyle.Render("wildcheck validator"))
	s.WriteString("\n\n")

	if !m.done {
		s.WriteString(titleStyle.Render(spinnerFrames[m.frame]))
		s.WriteString(" Validating configuration...")
		return s.String()
	}

	order, categories := m.validator.grouped()
	for _, category := range order {
		s.WriteString(categoryStyle.Render(category))
		s.WriteString("\n")

		for _, r := range categories[category] {
			icon := okStyle.Render("✓")
			switch r.Status {
			case statusWarning:
				icon = warnStyle.Render("!")
			case statusError:
				icon = errStyle.Render("✗")
			}

			s.WriteString(fmt.Sprintf("  %s %s", icon, r.Item))
			if r.Message != "" {
				s.WriteString(fmt.Sprintf(": %s", r.Message))
			}
			s.WriteString("\n")

			if r.Suggestion != "" {
				s.WriteString(fmt.Sprintf("    %s\n", suggestionStyle.Render("→ "+r.Suggestion)))
			}
		}
		s.WriteString("\n")
	}

	okCount, warningCount, errorCount := m.validator.counts()
	summaryParts := []string{okStyle.Render(fmt.Sprintf("%d passed", okCount))}
	if warningCount > 0 {
		summaryParts = append(summaryParts, warnStyle.Render(fmt.Sprintf("%d warnings", warningCount)))
	}
	if errorCount > 0 {
		summaryParts = append(summaryParts, errStyle.Render(fmt.Sprintf("%d errors", errorCount)))
	}
	s.WriteString(fmt.Sprintf("Summary: %s\n", strings.Join(summaryParts, ", ")))

	switch {
	case m.hasErrors:
		s.WriteString(errStyle.Render("\n✗ Validation failed\n"))
	case m.hasWarnings:
		s.WriteString(warnStyle.Render("\n! Validation passed with warnings\n"))
	default:
		s.WriteString(okStyle.Render("\n✓ Validation passed!\n"))
	}

	return s.String()
}
