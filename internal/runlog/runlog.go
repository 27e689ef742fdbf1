// Package runlog manages the per-run artefact directories: the run log and
// the JSON report of every wildcheck run.
package runlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	stampLayout = "2006-01-02_150405"
	idLen       = 8

	LogFile    = "wildcheck.log"
	ReportFile = "report.json"
)

// Run is the artefact directory of one run, named <timestamp>_<id>
type Run struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Dir     string    `json:"dir"`
}

func New(base string) (*Run, error) {
	run := &Run{
		ID:      uuid.NewString()[:idLen],
		Started: time.Now(),
	}
	run.Dir = filepath.Join(base, run.Started.Format(stampLayout)+"_"+run.ID)

	if err := os.MkdirAll(run.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return run, nil
}

// parse recovers a run from its directory name
func parse(base, name string) (*Run, bool) {
	stamp, id, ok := cutLast(name, "_")
	if !ok || len(id) != idLen {
		return nil, false
	}
	started, err := time.ParseInLocation(stampLayout, stamp, time.Local)
	if err != nil {
		return nil, false
	}
	return &Run{ID: id, Started: started, Dir: filepath.Join(base, name)}, true
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// Create truncates an existing artefact
func (r *Run) Create(name string) (*os.File, error) {
	return os.Create(r.Path(name))
}

func (r *Run) Append(name string) (*os.File, error) {
	return os.OpenFile(r.Path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// HasReport reports whether the run got as far as writing its report
func (r *Run) HasReport() bool {
	_, err := os.Stat(r.Path(ReportFile))
	return err == nil
}

// Artefact is one file of a run
type Artefact struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (r *Run) Artefacts() ([]Artefact, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, err
	}

	var out []Artefact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artefact{Name: e.Name(), Size: info.Size()})
	}
	return out, nil
}

// List returns the runs under base, most recent first. Directories that do
// not look like run directories are ignored; a missing base is no runs.
func List(base string) ([]*Run, error) {
	entries, err := os.ReadDir(base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var runs []*Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if run, ok := parse(base, e.Name()); ok {
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	return runs, nil
}

// Prune removes all but the keep most recent runs and returns the removed ones
func Prune(base string, keep int) ([]*Run, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	runs, err := List(base)
	if err != nil {
		return nil, err
	}
	if len(runs) <= keep {
		return nil, nil
	}

	removed := runs[keep:]
	for _, run := range removed {
		if err := os.RemoveAll(run.Dir); err != nil {
			return nil, fmt.Errorf("removing run %s: %w", run.ID, err)
		}
	}
	return removed, nil
}
