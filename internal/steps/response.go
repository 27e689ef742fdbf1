package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/world"
	"github.com/zoncoen/query-go"
)

// Response returns the generic assertions on the last response
func (s *Steps) Response() stepdef.StepCategory {
	return stepdef.StepCategory{
		Name:        "Response",
		Description: "Assertions on the last HTTP response of the scenario",
		Steps: []stepdef.StepDef{
			{
				Keyword:     stepdef.Then,
				Group:       "Status",
				Pattern:     `the response status should be {status_code:d}`,
				Description: "Asserts the HTTP status code",
				Example:     `Then the response status should be 200`,
				Handler:     statusIs,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Status",
				Pattern:     `the response status should be one of "{statuses}"`,
				Description: "Asserts the status is in a comma separated set",
				Example:     `Then the response status should be one of "200, 302"`,
				Handler:     statusOneOf,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Status",
				Pattern:     `the response should not be an error`,
				Description: "Asserts the request got a response at all",
				Example:     `Then the response should not be an error`,
				Handler:     notAnError,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Body",
				Pattern:     `the response should be valid JSON`,
				Description: "Asserts the body decodes to a JSON object",
				Example:     `Then the response should be valid JSON`,
				Handler:     validJSON,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Body",
				Pattern:     `the response should contain "{key}"`,
				Description: "Asserts a top-level key of the JSON object",
				Example:     `Then the response should contain "version"`,
				Handler:     containsKey,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Body",
				Pattern:     `the response json "{path}" should be "{value}"`,
				Description: "Asserts the value at a query path such as annotations[0].species",
				Example:     `Then the response json "status" should be "green"`,
				Handler:     jsonPathEquals,
			},
		},
	}
}

func statusIs(ctx context.Context, w *world.World, args stepdef.Args) error {
	got, err := status(w)
	if err != nil {
		return err
	}
	if want := args.Int(0); got != want {
		return fmt.Errorf("expected status %d, got %d", want, got)
	}
	return nil
}

func statusOneOf(ctx context.Context, w *world.World, args stepdef.Args) error {
	allowed, err := ParseStatuses(args.String(0))
	if err != nil {
		return err
	}
	got, err := status(w)
	if err != nil {
		return err
	}
	return CheckStatusIn(got, allowed)
}

func notAnError(ctx context.Context, w *world.World, args stepdef.Args) error {
	_, err := status(w)
	return err
}

func validJSON(ctx context.Context, w *world.World, args stepdef.Args) error {
	_, err := w.ResponseObject()
	return err
}

func containsKey(ctx context.Context, w *world.World, args stepdef.Args) error {
	obj, err := w.ResponseObject()
	if err != nil {
		return err
	}
	_, err = field(obj, args.String(0))
	return err
}

func jsonPathEquals(ctx context.Context, w *world.World, args stepdef.Args) error {
	path, want := args.String(0), args.String(1)
	if _, err := status(w); err != nil {
		return err
	}
	if w.ResponseJSON == nil {
		return fmt.Errorf("response is not valid JSON (status %d)", *w.StatusCode)
	}

	got, err := Extract(w.ResponseJSON, path)
	if err != nil {
		return err
	}
	if s := Format(got); s != want {
		return fmt.Errorf("expected %s to be %q, got %q", path, want, s)
	}
	return nil
}

// Extract returns the value at a query path. A leading dot is optional.
func Extract(v any, path string) (any, error) {
	if !strings.HasPrefix(path, ".") && !strings.HasPrefix(path, "[") {
		path = "." + path
	}
	q, err := query.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	got, err := q.Extract(v)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", path, err)
	}
	return got, nil
}

// Format renders a decoded JSON value the way it would be written in a step
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// ParseStatuses reads a comma separated list of status codes
func ParseStatuses(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no statuses in %q", s)
	}
	return out, nil
}

// CheckStatusIn is set membership on status codes
func CheckStatusIn(got int, allowed []int) error {
	for _, s := range allowed {
		if got == s {
			return nil
		}
	}
	return fmt.Errorf("expected status %s, got %d", joinInts(allowed, " or "), got)
}

// CheckRange requires a number with lo <= v <= hi
func CheckRange(name string, v any, lo, hi float64) error {
	n, ok := number(v)
	if !ok {
		return fmt.Errorf("%s is %s, not a number", name, world.JSONKind(v))
	}
	if n < lo || n > hi {
		return fmt.Errorf("%s %v is not between %v and %v", name, n, lo, hi)
	}
	return nil
}

// CheckBoundingBox requires a 4-element [x, y, w, h] list
func CheckBoundingBox(v any) error {
	if v == nil {
		return fmt.Errorf("missing bbox")
	}
	box, ok := v.([]any)
	if !ok {
		return fmt.Errorf("bbox is %s, not a list", world.JSONKind(v))
	}
	if len(box) != 4 {
		return fmt.Errorf("bbox has %d elements, expected 4", len(box))
	}
	return nil
}
