package steps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/dbcheck"
	"github.com/tomatool/wildcheck/internal/httpclient"
	"github.com/tomatool/wildcheck/internal/stack"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/world"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeWBIA answers the engine endpoints with canned payloads
func fakeWBIA(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/core/db/info/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"version": "4.0", "dbname": "wbia"})
	})
	mux.HandleFunc("/api/upload/image/", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		defer file.Close()
		_, _ = io.Copy(io.Discard, file)
		if header.Header.Get("Content-Type") != "image/jpeg" {
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": "not a jpeg"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"gid": 7})
	})
	mux.HandleFunc("/api/engine/detect/cnn/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			GIDs []int `json:"gid_list"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.GIDs) != 1 || body.GIDs[0] != 7 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad gid_list"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"annotations": []any{
			map[string]any{"bbox": []int{10, 20, 100, 80}, "confidence": 0.0},
			map[string]any{"bbox": []int{0, 0, 50, 50}, "confidence": 1.0},
		}})
	})
	mux.HandleFunc("/api/engine/classify/species/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"species": "zebra_plains", "confidence": 0.87})
	})
	mux.HandleFunc("/api/engine/query/graph/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if v, ok := body["daid_list"]; !ok || v != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "daid_list must be null"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"matches": []any{
			map[string]any{"daid": 3, "score": 12.5},
			map[string]any{"daid": 9, "score": 3},
		}})
	})
	return mux
}

type fixture struct {
	world    *world.World
	registry *stepdef.Registry
	steps    *Steps
}

func (f *fixture) run(t *testing.T, text string) error {
	t.Helper()
	return f.registry.Run(context.Background(), f.world, text)
}

func (f *fixture) mustRun(t *testing.T, lines ...string) {
	t.Helper()
	for _, text := range lines {
		require.NoError(t, f.run(t, text), text)
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wbia := httptest.NewServer(fakeWBIA(t))
	wildbook := httptest.NewServer(httphelpers.HandlerWithResponse(http.StatusOK,
		http.Header{"Content-Type": []string{"text/html"}}, []byte("<html><title>Wildbook</title></html>")))
	opensearch := httptest.NewServer(httphelpers.HandlerWithJSONResponse(map[string]any{"status": "yellow"}, nil))
	t.Cleanup(func() {
		wbia.Close()
		wildbook.Close()
		opensearch.Close()
	})

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "zebra.jpg"), []byte("\xff\xd8\xff\xe0fake"), 0o644))

	cfg := config.Default()
	cfg.Services.WBIA = wbia.URL
	cfg.Services.Wildbook = wildbook.URL
	cfg.Services.OpenSearch = opensearch.URL
	cfg.TestDataDir = dataDir
	cfg.Timeouts.Default = 5 * time.Second
	cfg.Timeouts.Long = 5 * time.Second

	session := httpclient.NewSession()
	t.Cleanup(session.Close)

	s := &Steps{Stack: &fakeLister{}, OpenDB: func(ctx context.Context, driver, dsn string) (dbcheck.Prober, error) {
		return &fakeProber{databases: map[string]bool{"wildbook": true, "wbia": true}}, nil
	}}
	r := stepdef.NewRegistry()
	require.NoError(t, s.Register(r))

	w := world.New(&cfg, session)
	w.ResetScenario("test")

	return &fixture{world: w, registry: r, steps: s}
}

type fakeLister struct {
	services []stack.Service
}

func (f *fakeLister) Services(ctx context.Context, project string) ([]stack.Service, error) {
	return f.services, nil
}

type fakeProber struct {
	databases map[string]bool
	closed    bool
}

func (f *fakeProber) Ping(ctx context.Context) error { return nil }
func (f *fakeProber) DatabaseExists(ctx context.Context, name string) (bool, error) {
	return f.databases[name], nil
}
func (f *fakeProber) Close() error {
	f.closed = true
	return nil
}

func TestRegistry_NoAmbiguity(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, step := range r.AllSteps() {
		text := step.Example[len(string(step.Keyword))+1:]
		m, err := r.Match(text)
		require.NoError(t, err, "example of %q", step.Pattern)
		assert.Equal(t, step.Pattern, m.Step.Pattern)

		// godog in strict mode rejects a step matched by two expressions
		hits := 0
		for _, other := range r.AllSteps() {
			if other.Compiled().Regexp().MatchString(text) {
				hits++
			}
		}
		assert.Equal(t, 1, hits, "expressions matching %q", text)
	}
}

func TestSteps_UploadAndDetect(t *testing.T) {
	f := newFixture(t)

	f.mustRun(t,
		"WBIA service is running",
		"I have test images in the test data directory",
		`I have a test image "zebra.jpg"`,
		"I upload the image to WBIA",
		"the response status should be 200",
		"the response should contain an image ID",
		"I request detection on the image",
		"the response should contain detected annotations",
		"each annotation should have a bounding box",
		"each annotation should have a confidence score",
		`the response json "annotations[1].bbox[2]" should be "50"`,
	)

	require.Len(t, f.world.CreatedResources, 1)
	assert.Equal(t, world.CreatedResource{Kind: "image", ID: "7"}, f.world.CreatedResources[0])
}

func TestSteps_ClassifyAndMatch(t *testing.T) {
	f := newFixture(t)

	f.mustRun(t,
		`I have an annotation with ID "1"`,
		"I request species classification",
		"the response should contain a species name",
		"the confidence score should be between 0.0 and 1.0",
		`the response json "species" should be "zebra_plains"`,
		"I query for matching individuals",
		"the response should contain a ranked list of matches",
		"each match should have a similarity score",
	)

	err := f.run(t, "the confidence score should be between 0.9 and 1.0")
	assert.Error(t, err, "matches response has no confidence, which counts as 0")
}

func TestSteps_Health(t *testing.T) {
	f := newFixture(t)

	f.mustRun(t,
		"the docker-compose stack is running",
		`I send a GET request to "/api/core/db/info/"`,
		"the response status should be 200",
		"the response should be valid JSON",
		`the response should contain "version"`,
		"I visit the Wildbook homepage",
		`the response status should be one of "200, 302"`,
		`the page should contain "Wildbook"`,
		"the page should contain the Wildbook marker",
		`I send a GET request to "/" on OpenSearch`,
		`the cluster status should be "green" or "yellow"`,
		"WBIA is connected to PostgreSQL",
		"Wildbook is connected to PostgreSQL",
		"Wildbook can reach WBIA",
		"the system should be fully operational",
	)

	err := f.run(t, `the response should contain "nodes"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `response does not contain "nodes" (keys: status)`)
}

func TestSteps_EngineInfoIsStable(t *testing.T) {
	f := newFixture(t)

	var statuses []int
	var shapes [][]string
	for i := 0; i < 2; i++ {
		f.world.ResetScenario("repeat")
		f.mustRun(t,
			`I send a GET request to "/api/core/db/info/"`,
			"the response status should be 200",
			"the response should be valid JSON",
		)
		obj, err := f.world.ResponseObject()
		require.NoError(t, err)

		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		statuses = append(statuses, *f.world.StatusCode)
		shapes = append(shapes, keys)
	}

	assert.Equal(t, []int{200, 200}, statuses)
	assert.Equal(t, shapes[0], shapes[1])
	assert.Equal(t, []string{"dbname", "version"}, shapes[0])
}

func TestSteps_Database(t *testing.T) {
	f := newFixture(t)

	f.mustRun(t,
		"I check the PostgreSQL health endpoint",
		"the database should be accepting connections",
		`the "wildbook" database should exist`,
	)
	assert.Error(t, f.run(t, `the "zoo" database should exist`))

	prober := f.world.DB.(*fakeProber)
	f.world.ResetScenario("next")
	assert.True(t, prober.closed, "connection must be released at scenario reset")
}

func TestSteps_DatabaseDown(t *testing.T) {
	f := newFixture(t)
	f.steps.OpenDB = func(ctx context.Context, driver, dsn string) (dbcheck.Prober, error) {
		return nil, errors.New("connection refused")
	}

	require.NoError(t, f.run(t, "I check the PostgreSQL health endpoint"))

	err := f.run(t, "the database should be accepting connections")
	require.Error(t, err)
	assert.Equal(t, "database is not accepting connections: connection refused", err.Error())

	err = f.run(t, `the "wildbook" database should exist`)
	require.Error(t, err)
}

func TestSteps_StackNotRunning(t *testing.T) {
	f := newFixture(t)
	f.world.Config.Stack.ComposeProject = "wildme"
	f.steps.Stack = &fakeLister{services: []stack.Service{{Name: "wildbook", State: "running"}}}

	err := f.run(t, "the docker-compose stack is running")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db, opensearch, wbia")
}

func TestSteps_TransportFailure(t *testing.T) {
	f := newFixture(t)
	f.world.Config.Services.WBIA = "http://127.0.0.1:1"

	require.NoError(t, f.run(t, `I send a GET request to "/api/core/db/info/"`), "action steps never fail on transport errors")
	assert.Nil(t, f.world.StatusCode)

	for _, text := range []string{
		"the response status should be 200",
		"the response should be valid JSON",
		"the response should not be an error",
		`the response status should be one of "200"`,
	} {
		err := f.run(t, text)
		require.Error(t, err, text)
		assert.Contains(t, err.Error(), "no response received", text)
	}
}

func TestSteps_MissingPrerequisites(t *testing.T) {
	f := newFixture(t)

	assert.Error(t, f.run(t, "I request detection on the image"))
	assert.Error(t, f.run(t, "each annotation should have a bounding box"))
	assert.Error(t, f.run(t, "I upload the image to WBIA"))
	assert.Error(t, f.run(t, `I have a test image "missing.jpg"`))
}

func TestCheckRange(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		lo, hi  float64
		wantErr bool
	}{
		{"lower bound", 0.0, 0.0, 1.0, false},
		{"upper bound", 1.0, 0.0, 1.0, false},
		{"inside", 0.5, 0.0, 1.0, false},
		{"below", -0.01, 0.0, 1.0, true},
		{"above", 1.01, 0.0, 1.0, true},
		{"not a number", "0.5", 0.0, 1.0, true},
		{"null", nil, 0.0, 1.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRange("confidence", tt.value, tt.lo, tt.hi)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckRange(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestCheckBoundingBox(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"four", []any{1.0, 2.0, 3.0, 4.0}, false},
		{"three", []any{1.0, 2.0, 3.0}, true},
		{"five", []any{1.0, 2.0, 3.0, 4.0, 5.0}, true},
		{"missing", nil, true},
		{"object", map[string]any{"x": 1.0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBoundingBox(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckBoundingBox(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseStatuses("200, 302")
	require.NoError(t, err)
	assert.Equal(t, []int{200, 302}, got)

	_, err = ParseStatuses("200, ok")
	assert.Error(t, err)

	_, err = ParseStatuses(" , ")
	assert.Error(t, err)

	assert.NoError(t, CheckStatusIn(302, []int{200, 302}))
	assert.EqualError(t, CheckStatusIn(500, []int{200, 302}), "expected status 200 or 302, got 500")
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "50", Format(50.0))
	assert.Equal(t, "0.87", Format(0.87))
	assert.Equal(t, "green", Format("green"))
	assert.Equal(t, "true", Format(true))
	assert.Equal(t, "null", Format(nil))
	assert.Equal(t, "[1,2]", Format([]any{1.0, 2.0}))
}
