// Package steps implements the Gherkin steps of the Wildbook/WBIA suite.
// Action steps record their outcome on the World; assertion steps only read
// it, apart from values they derive for later steps of the same scenario.
package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tomatool/wildcheck/internal/dbcheck"
	"github.com/tomatool/wildcheck/internal/stack"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/world"
)

// Steps holds the collaborators steps reach outside HTTP
type Steps struct {
	Stack  stack.Lister
	OpenDB func(ctx context.Context, driver, dsn string) (dbcheck.Prober, error)
}

func New() *Steps {
	return &Steps{
		Stack:  stack.DockerLister{},
		OpenDB: dbcheck.Open,
	}
}

// Register adds every step category to r
func (s *Steps) Register(r *stepdef.Registry) error {
	for _, cat := range []stepdef.StepCategory{s.Health(), s.WBIA(), s.Response()} {
		if err := r.AddCategory(cat); err != nil {
			return fmt.Errorf("registering %s steps: %w", cat.Name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry with all built-in steps
func NewRegistry() (*stepdef.Registry, error) {
	r := stepdef.NewRegistry()
	if err := New().Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

func join(base, path string) string {
	if strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/") {
		return base + path[1:]
	}
	return base + path
}

func status(w *world.World) (int, error) {
	if w.StatusCode == nil {
		return 0, w.NoResponseError()
	}
	return *w.StatusCode, nil
}

func field(obj map[string]any, key string) (any, error) {
	v, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("response does not contain %q (keys: %s)", key, strings.Join(keys(obj), ", "))
	}
	return v, nil
}

func keys(obj map[string]any) []string {
	out := make([]string, 0, len(obj))
	for k := range obj {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// list reads a sequence derived by an earlier step
func list(w *world.World, key string) ([]any, error) {
	v, ok := w.Get(key)
	if !ok {
		return nil, fmt.Errorf("%s has not been set by a previous step", key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a list: %s", key, world.JSONKind(v))
	}
	return items, nil
}
