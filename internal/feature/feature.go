// Package feature reads Gherkin feature files. The runner uses it to name
// the feature a scenario belongs to and the validate command to find steps
// without running them.
package feature

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
)

type Feature struct {
	URI       string
	Name      string
	Tags      []string
	Scenarios []Scenario
}

// Scenario is one executable scenario; outlines are expanded per example row
// and background steps are prepended.
type Scenario struct {
	Name  string
	Line  int64
	Tags  []string
	Steps []Step
}

type Step struct {
	// Keyword as written, e.g. "And"
	Keyword string
	// Kind is the resolved Given, When or Then
	Kind string
	Text string
	Line int64
}

// Parse reads one feature document
func Parse(uri string, r io.Reader) (*Feature, error) {
	doc, err := gherkin.ParseGherkinDocument(r, (&messages.Incrementing{}).NewId)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", uri, err)
	}
	if doc.Feature == nil {
		return nil, fmt.Errorf("parsing %s: no Feature found", uri)
	}

	f := &Feature{
		URI:  uri,
		Name: doc.Feature.Name,
		Tags: tagNames(doc.Feature.Tags),
	}

	var background []*messages.Step
	for _, child := range doc.Feature.Children {
		switch {
		case child.Background != nil:
			background = child.Background.Steps
		case child.Scenario != nil:
			f.Scenarios = append(f.Scenarios, expand(child.Scenario, background, f.Tags)...)
		case child.Rule != nil:
			ruleBackground := background
			ruleTags := append(append([]string{}, f.Tags...), tagNames(child.Rule.Tags)...)
			for _, rc := range child.Rule.Children {
				switch {
				case rc.Background != nil:
					ruleBackground = append(append([]*messages.Step{}, background...), rc.Background.Steps...)
				case rc.Scenario != nil:
					f.Scenarios = append(f.Scenarios, expand(rc.Scenario, ruleBackground, ruleTags)...)
				}
			}
		}
	}

	return f, nil
}

func expand(sc *messages.Scenario, background []*messages.Step, inherited []string) []Scenario {
	tags := append(append([]string{}, inherited...), tagNames(sc.Tags)...)
	steps := append(append([]*messages.Step{}, background...), sc.Steps...)

	if len(sc.Examples) == 0 {
		return []Scenario{{
			Name:  sc.Name,
			Line:  sc.Location.Line,
			Tags:  tags,
			Steps: resolve(steps, nil),
		}}
	}

	var out []Scenario
	for _, ex := range sc.Examples {
		if ex.TableHeader == nil {
			continue
		}
		exTags := append(append([]string{}, tags...), tagNames(ex.Tags)...)
		for _, row := range ex.TableBody {
			values := make(map[string]string, len(row.Cells))
			for i, cell := range row.Cells {
				if i < len(ex.TableHeader.Cells) {
					values[ex.TableHeader.Cells[i].Value] = cell.Value
				}
			}
			out = append(out, Scenario{
				Name:  substitute(sc.Name, values),
				Line:  row.Location.Line,
				Tags:  exTags,
				Steps: resolve(steps, values),
			})
		}
	}
	return out
}

// resolve gives And/But steps the kind of the step before them
func resolve(steps []*messages.Step, values map[string]string) []Step {
	out := make([]Step, 0, len(steps))
	kind := "Given"
	for _, s := range steps {
		switch s.KeywordType {
		case messages.StepKeywordType_CONTEXT:
			kind = "Given"
		case messages.StepKeywordType_ACTION:
			kind = "When"
		case messages.StepKeywordType_OUTCOME:
			kind = "Then"
		}
		out = append(out, Step{
			Keyword: strings.TrimSpace(s.Keyword),
			Kind:    kind,
			Text:    substitute(s.Text, values),
			Line:    s.Location.Line,
		})
	}
	return out
}

func substitute(text string, values map[string]string) string {
	for k, v := range values {
		text = strings.ReplaceAll(text, "<"+k+">", v)
	}
	return text
}

func tagNames(tags []*messages.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

// Files returns the .feature files under paths in lexical order
func Files(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("feature path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, filepath.Clean(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".feature") {
				files = append(files, filepath.Clean(path))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Load parses every feature file under paths
func Load(paths []string) ([]*Feature, error) {
	files, err := Files(paths)
	if err != nil {
		return nil, err
	}

	features := make([]*Feature, 0, len(files))
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		feat, err := Parse(file, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		features = append(features, feat)
	}
	return features, nil
}

// Index maps a feature file URI to the feature name
type Index map[string]string

func NewIndex(features []*Feature) Index {
	idx := make(Index, len(features))
	for _, f := range features {
		idx[filepath.Clean(f.URI)] = f.Name
	}
	return idx
}

// Name returns the feature name for uri, or the file name when unknown
func (i Index) Name(uri string) string {
	if name, ok := i[filepath.Clean(uri)]; ok {
		return name
	}
	base := filepath.Base(uri)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
