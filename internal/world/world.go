// Package world holds the state shared by the lifecycle hooks and step
// handlers of a run. A World is created once per run and passed explicitly
// to every step; scenario fields are cleared before each scenario.
package world

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/dbcheck"
	"github.com/tomatool/wildcheck/internal/httpclient"
)

// Well-known keys for values derived by steps
const (
	KeyUploadedImageID = "uploaded_image_id"
	KeyAnnotationID    = "annotation_id"
	KeyAnnotations     = "annotations"
	KeyMatches         = "matches"
	KeyTestImagePath   = "test_image_path"
	KeyTestImageName   = "test_image_filename"
	KeyDBHealthy       = "db_healthy"
	KeyDBError         = "db_error"
)

type World struct {
	Config  *config.Config
	Session *httpclient.Session

	Feature  string
	Scenario string

	// Last response; StatusCode is nil when the request never got a response
	Response     *httpclient.Result
	StatusCode   *int
	ResponseJSON any
	ResponseText string
	Error        string

	CreatedResources []CreatedResource

	// DB is the connection opened by a database health step, released at scenario end
	DB dbcheck.Prober

	values map[string]any
}

func New(cfg *config.Config, session *httpclient.Session) *World {
	return &World{
		Config:  cfg,
		Session: session,
		values:  make(map[string]any),
	}
}

// ResetScenario clears everything a previous scenario may have left behind
func (w *World) ResetScenario(name string) {
	w.ReleaseDB()

	w.Scenario = name
	w.Response = nil
	w.StatusCode = nil
	w.ResponseJSON = nil
	w.ResponseText = ""
	w.Error = ""
	w.CreatedResources = []CreatedResource{}
	w.values = make(map[string]any)
}

// Apply records a request outcome as the scenario's last response
func (w *World) Apply(res *httpclient.Result) {
	w.Response = res
	if res.Failed() {
		w.StatusCode = nil
		w.ResponseJSON = nil
		w.ResponseText = ""
		w.Error = res.Err.Error()
		return
	}

	status := res.StatusCode
	w.StatusCode = &status
	w.ResponseJSON = res.JSON
	w.ResponseText = res.Text()
	w.Error = ""
}

// Track appends a resource for best-effort cleanup at scenario end
func (w *World) Track(kind, id string) {
	w.CreatedResources = append(w.CreatedResources, CreatedResource{Kind: kind, ID: id})
}

func (w *World) Set(key string, value any) {
	if w.values == nil {
		w.values = make(map[string]any)
	}
	w.values[key] = value
}

func (w *World) Get(key string) (any, bool) {
	v, ok := w.values[key]
	return v, ok
}

// Int returns a value stored by an earlier step as an int
func (w *World) Int(key string) (int, error) {
	v, ok := w.values[key]
	if !ok {
		return 0, fmt.Errorf("%s has not been set by a previous step", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s is not an integer: %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s is not a number: %T", key, v)
	}
}

func (w *World) String(key string) (string, error) {
	v, ok := w.values[key]
	if !ok {
		return "", fmt.Errorf("%s has not been set by a previous step", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string: %T", key, v)
	}
	return s, nil
}

// ResponseObject returns the decoded body as a JSON object
func (w *World) ResponseObject() (map[string]any, error) {
	if w.StatusCode == nil {
		return nil, w.NoResponseError()
	}
	if w.ResponseJSON == nil {
		return nil, fmt.Errorf("response is not valid JSON (status %d)", *w.StatusCode)
	}
	obj, ok := w.ResponseJSON.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %s", JSONKind(w.ResponseJSON))
	}
	return obj, nil
}

// NoResponseError describes why no response is available
func (w *World) NoResponseError() error {
	if w.Error != "" {
		return fmt.Errorf("no response received: %s", w.Error)
	}
	return fmt.Errorf("no response received")
}

func (w *World) ReleaseDB() {
	if w.DB == nil {
		return
	}
	if err := w.DB.Close(); err != nil {
		log.Warn().Err(err).Str("scenario", w.Scenario).Msg("closing database connection")
	}
	w.DB = nil
}

// Close ends the run, releasing the HTTP session
func (w *World) Close() {
	w.ReleaseDB()
	if w.Session != nil {
		w.Session.Close()
	}
}

// JSONKind names the JSON type of a decoded value
func JSONKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
