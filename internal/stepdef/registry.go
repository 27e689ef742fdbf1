// Package stepdef maps step text to handlers. Patterns use `{name}`,
// `{name:d}` and `{name:f}` placeholders and are compiled once when a
// category is added.
package stepdef

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tomatool/wildcheck/internal/world"
)

type Keyword string

const (
	Given Keyword = "Given"
	When  Keyword = "When"
	Then  Keyword = "Then"
)

// Handler implements a step. It receives the run's World and the typed
// placeholder values.
type Handler func(ctx context.Context, w *world.World, args Args) error

// StepDef represents a structured step definition with metadata
type StepDef struct {
	Keyword Keyword `json:"keyword"`

	// Group is the category within a step set (e.g., "Upload", "Detection")
	Group string `json:"group,omitempty"`

	Pattern     string `json:"pattern"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`

	Handler Handler `json:"-"`

	compiled *Pattern
}

func (s *StepDef) Compiled() *Pattern { return s.compiled }

// StepCategory groups related steps together
type StepCategory struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []StepDef `json:"steps"`
}

var (
	ErrUndefined = errors.New("undefined step")
	ErrAmbiguous = errors.New("ambiguous step")
)

// Match is a resolved step: the definition and its typed arguments
type Match struct {
	Step *StepDef
	Args Args
}

// StepBinder is the part of godog.ScenarioContext used to register steps
type StepBinder interface {
	Step(expr interface{}, stepFunc interface{})
}

// Registry holds every step definition of a run
type Registry struct {
	categories []StepCategory
	patterns   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{patterns: make(map[string]string)}
}

// AddCategory compiles and adds a category. A pattern may be registered only
// once, whatever its keyword.
func (r *Registry) AddCategory(category StepCategory) error {
	steps := make([]StepDef, len(category.Steps))
	seen := make(map[string]bool, len(category.Steps))

	for i, step := range category.Steps {
		if step.Handler == nil {
			return fmt.Errorf("step %q has no handler", step.Pattern)
		}
		if owner, ok := r.patterns[step.Pattern]; ok || seen[step.Pattern] {
			if !ok {
				owner = category.Name
			}
			return fmt.Errorf("step %q already registered by %s", step.Pattern, owner)
		}
		p, err := Compile(step.Pattern)
		if err != nil {
			return err
		}
		step.compiled = p
		steps[i] = step
		seen[step.Pattern] = true
	}

	for _, step := range steps {
		r.patterns[step.Pattern] = category.Name
	}
	category.Steps = steps
	r.categories = append(r.categories, category)
	return nil
}

// MustAddCategory panics on error; for built-in step sets
func (r *Registry) MustAddCategory(category StepCategory) {
	if err := r.AddCategory(category); err != nil {
		panic(err)
	}
}

func (r *Registry) Categories() []StepCategory {
	return r.categories
}

func (r *Registry) AllSteps() []*StepDef {
	var all []*StepDef
	for ci := range r.categories {
		for si := range r.categories[ci].Steps {
			all = append(all, &r.categories[ci].Steps[si])
		}
	}
	return all
}

// Match resolves step text to a single definition. When several patterns
// match, the one with the most literal text wins; a tie is ambiguous.
// Keywords do not take part in matching.
func (r *Registry) Match(text string) (*Match, error) {
	var (
		best       *Match
		bestScore  = -1
		contenders []string
	)

	for _, step := range r.AllSteps() {
		args, ok := step.compiled.Parse(text)
		if !ok {
			continue
		}
		score := step.compiled.Specificity()
		switch {
		case score > bestScore:
			best = &Match{Step: step, Args: args}
			bestScore = score
			contenders = []string{step.Pattern}
		case score == bestScore:
			contenders = append(contenders, step.Pattern)
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrUndefined, text)
	}
	if len(contenders) > 1 {
		return nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, text, strings.Join(quoteAll(contenders), ", "))
	}
	return best, nil
}

// Run resolves text and calls the handler
func (r *Registry) Run(ctx context.Context, w *world.World, text string) error {
	m, err := r.Match(text)
	if err != nil {
		return err
	}
	return m.Step.Handler(ctx, w, m.Args)
}

// Bind registers every step with godog. World is resolved per call, so the
// same registry serves every scenario of a run.
func (r *Registry) Bind(sc StepBinder, current func() *world.World) {
	for _, step := range r.AllSteps() {
		sc.Step(step.compiled.Regexp(), stepFunc(step, current))
	}
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	stringType  = reflect.TypeOf("")
)

// stepFunc builds func(context.Context, string, ...) (context.Context, error)
// with one string per placeholder, the shape godog calls with raw captures.
func stepFunc(step *StepDef, current func() *world.World) interface{} {
	n := step.compiled.NumParams()

	in := make([]reflect.Type, 0, n+1)
	in = append(in, contextType)
	for i := 0; i < n; i++ {
		in = append(in, stringType)
	}
	fnType := reflect.FuncOf(in, []reflect.Type{contextType, errorType}, false)

	fn := reflect.MakeFunc(fnType, func(values []reflect.Value) []reflect.Value {
		ctx, _ := values[0].Interface().(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}

		raw := make([]string, n)
		for i := range raw {
			raw[i] = values[i+1].String()
		}

		err := invoke(ctx, step, current(), raw)

		errValue := reflect.Zero(errorType)
		if err != nil {
			errValue = reflect.ValueOf(&err).Elem()
		}
		return []reflect.Value{reflect.ValueOf(&ctx).Elem(), errValue}
	})

	return fn.Interface()
}

func invoke(ctx context.Context, step *StepDef, w *world.World, raw []string) error {
	args, err := step.compiled.Convert(raw)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("step %q called outside a run", step.Pattern)
	}
	return step.Handler(ctx, w, args)
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
