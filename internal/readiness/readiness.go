// Package readiness waits for the services under test to answer their
// health endpoints before a run starts.
package readiness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/wildcheck/internal/config"
	"github.com/tomatool/wildcheck/internal/httpclient"
)

// Target is one health endpoint and the statuses that count as healthy
type Target struct {
	Name     string
	URL      string
	Statuses []int
}

func (t Target) accepts(status int) bool {
	for _, s := range t.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Targets lists the health endpoints of the configured services
func Targets(cfg *config.Config) []Target {
	return []Target{
		{Name: "wildbook", URL: cfg.Services.Wildbook, Statuses: []int{200, 302}},
		{Name: "wbia", URL: strings.TrimRight(cfg.Services.WBIA, "/") + "/api/core/db/info/", Statuses: []int{200}},
		{Name: "opensearch", URL: cfg.Services.OpenSearch, Statuses: []int{200}},
	}
}

// Getter is the part of httpclient.Session used to probe
type Getter interface {
	Get(ctx context.Context, url string, timeout time.Duration) *httpclient.Result
}

// Check probes a target once
func Check(ctx context.Context, g Getter, t Target, timeout time.Duration) error {
	res := g.Get(ctx, t.URL, timeout)
	if res.Failed() {
		return fmt.Errorf("%s: %w", t.Name, res.Err)
	}
	if !t.accepts(res.StatusCode) {
		return fmt.Errorf("%s: unexpected status %d from %s", t.Name, res.StatusCode, t.URL)
	}
	return nil
}

// CheckAll probes every target once and reports all failures together
func CheckAll(ctx context.Context, g Getter, targets []Target, timeout time.Duration) error {
	var result *multierror.Error
	for _, t := range targets {
		if err := Check(ctx, g, t, timeout); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Options tune the retry schedule
type Options struct {
	// MaxWait bounds the whole wait
	MaxWait time.Duration
	// Timeout applies to each probe
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Wait retries each target with exponential backoff until it is healthy or
// MaxWait has elapsed. Targets are waited for in order.
func Wait(ctx context.Context, g Getter, targets []Target, opts Options) error {
	if opts.InitialInterval == 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 5 * time.Second
	}

	deadline := time.Now().Add(opts.MaxWait)

	var result *multierror.Error
	for _, t := range targets {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = opts.InitialInterval
		b.MaxInterval = opts.MaxInterval
		b.MaxElapsedTime = remaining

		started := time.Now()
		err := backoff.RetryNotify(func() error {
			return Check(ctx, g, t, opts.Timeout)
		}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
			log.Debug().Err(err).Str("service", t.Name).Dur("retry_in", d).Msg("service not ready")
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("waiting for %s: %w", t.Name, err))
			continue
		}
		log.Info().Str("service", t.Name).Dur("took", time.Since(started)).Msg("service ready")
	}

	return result.ErrorOrNil()
}
