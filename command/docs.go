package command

import (
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/steps"
	"github.com/urfave/cli/v2"
)

var docsCommand = &cli.Command{
	Name:   "docs",
	Usage:  "Write the step reference as markdown or html",
	Hidden: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output file, stdout when empty",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   "markdown",
			Usage:   "markdown or html",
		},
	},
	Action: runDocs,
}

func runDocs(c *cli.Context) error {
	registry, err := steps.NewRegistry()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if output := c.String("output"); output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return generateDocs(w, c.String("format"), registry.Categories())
}

type docStep struct {
	Keyword     string
	Example     string
	Description string
	Params      string
}

type docGroup struct {
	Name  string
	Steps []docStep
}

type docCategory struct {
	Name        string
	Description string
	Groups      []docGroup
}

// groupSteps keeps groups in first-seen order. Steps without a group land in "General".
func groupSteps(cat stepdef.StepCategory) docCategory {
	out := docCategory{Name: cat.Name, Description: cat.Description}
	index := map[string]int{}

	for i := range cat.Steps {
		step := &cat.Steps[i]
		name := step.Group
		if name == "" {
			name = "General"
		}
		pos, ok := index[name]
		if !ok {
			pos = len(out.Groups)
			index[name] = pos
			out.Groups = append(out.Groups, docGroup{Name: name})
		}

		example := step.Example
		if example == "" {
			example = string(step.Keyword) + " " + step.Pattern
		}
		out.Groups[pos].Steps = append(out.Groups[pos].Steps, docStep{
			Keyword:     string(step.Keyword),
			Example:     example,
			Description: step.Description,
			Params:      describeParams(step.Compiled()),
		})
	}
	return out
}

// describeParams lists the placeholders of a pattern as "name (type)"
func describeParams(p *stepdef.Pattern) string {
	if p == nil {
		return ""
	}
	var params []string
	for _, seg := range p.Segments() {
		switch s := seg.(type) {
		case stepdef.IntParam:
			params = append(params, s.Name+" (integer)")
		case stepdef.FloatParam:
			params = append(params, s.Name+" (number)")
		case stepdef.StringParam:
			params = append(params, s.Name+" (text)")
		}
	}
	return strings.Join(params, ", ")
}

const markdownDocs = `# Step Reference

Steps available to wildcheck feature files. Given, When, Then, And and But
are interchangeable: matching only looks at the step text.
{{range .}}
## {{.Name}}

{{.Description}}
{{range .Groups}}
### {{.Name}}

| Step | Parameters | Description |
|------|------------|-------------|
{{range .Steps}}| ` + "`{{.Example}}`" + ` | {{.Params}} | {{.Description}} |
{{end}}{{end}}{{end}}`

const htmlDocs = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>wildcheck step reference</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 0 auto; padding: 20px; }
table { border-collapse: collapse; width: 100%; margin-bottom: 24px; }
th, td { border: 1px solid #ddd; padding: 6px 8px; text-align: left; }
code { background: #f5f5f5; padding: 1px 4px; }
</style>
</head>
<body>
<h1>wildcheck step reference</h1>
{{range .}}<h2>{{.Name}}</h2>
<p>{{.Description}}</p>
{{range .Groups}}<h3>{{.Name}}</h3>
<table>
<tr><th>Step</th><th>Parameters</th><th>Description</th></tr>
{{range .Steps}}<tr><td><code>{{.Example}}</code></td><td>{{.Params}}</td><td>{{.Description}}</td></tr>
{{end}}</table>
{{end}}{{end}}</body>
</html>
`

type executor interface {
	Execute(w io.Writer, data any) error
}

func generateDocs(w io.Writer, format string, categories []stepdef.StepCategory) error {
	var (
		tmpl executor
		err  error
	)
	switch format {
	case "markdown", "md":
		tmpl, err = template.New("docs").Parse(markdownDocs)
	case "html":
		tmpl, err = htmltemplate.New("docs").Parse(htmlDocs)
	default:
		return fmt.Errorf("unknown docs format %q", format)
	}
	if err != nil {
		return fmt.Errorf("parsing docs template: %w", err)
	}

	data := make([]docCategory, 0, len(categories))
	for _, cat := range categories {
		data = append(data, groupSteps(cat))
	}
	return tmpl.Execute(w, data)
}
