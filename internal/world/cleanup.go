package world

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CreatedResource is something a scenario provisioned on a service under test
type CreatedResource struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (r CreatedResource) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.ID)
}

// CleanupResult is the outcome of cleaning one resource
type CleanupResult struct {
	Resource CreatedResource `json:"resource"`
	Err      string          `json:"error,omitempty"`
}

func (r CleanupResult) OK() bool { return r.Err == "" }

// Cleaner removes a single created resource
type Cleaner interface {
	Cleanup(ctx context.Context, res CreatedResource) error
}

type CleanerFunc func(ctx context.Context, res CreatedResource) error

func (f CleanerFunc) Cleanup(ctx context.Context, res CreatedResource) error { return f(ctx, res) }

// RetainCleaner leaves resources in place and only logs them
type RetainCleaner struct{}

func (RetainCleaner) Cleanup(ctx context.Context, res CreatedResource) error {
	log.Debug().Str("kind", res.Kind).Str("id", res.ID).Msg("retaining created resource")
	return nil
}

// CleanupAll attempts every tracked resource in order. A failure, including a
// panic inside the cleaner, is recorded and logged and does not stop the
// remaining cleanups.
func CleanupAll(ctx context.Context, w *World, c Cleaner) []CleanupResult {
	results := make([]CleanupResult, 0, len(w.CreatedResources))
	for _, res := range w.CreatedResources {
		result := CleanupResult{Resource: res}
		if err := safeCleanup(ctx, c, res); err != nil {
			result.Err = err.Error()
			log.Warn().
				Err(err).
				Str("scenario", w.Scenario).
				Str("resource", res.String()).
				Msg("failed to clean up resource")
		}
		results = append(results, result)
	}
	return results
}

func safeCleanup(ctx context.Context, c Cleaner, res CreatedResource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return c.Cleanup(ctx, res)
}
