package steps

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/wildcheck/internal/dbcheck"
	"github.com/tomatool/wildcheck/internal/stack"
	"github.com/tomatool/wildcheck/internal/stepdef"
	"github.com/tomatool/wildcheck/internal/world"
)

const wbiaInfoPath = "/api/core/db/info/"

// Health returns the deployment health steps
func (s *Steps) Health() stepdef.StepCategory {
	return stepdef.StepCategory{
		Name:        "Health",
		Description: "Stack, database and service reachability checks",
		Steps: []stepdef.StepDef{
			// Stack
			{
				Keyword:     stepdef.Given,
				Group:       "Stack",
				Pattern:     `the docker-compose stack is running`,
				Description: "Requires every configured compose service to be running (skipped without COMPOSE_PROJECT)",
				Example:     `Given the docker-compose stack is running`,
				Handler:     s.stackRunning,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Stack",
				Pattern:     `the system should be fully operational`,
				Description: "Passes when every previous step of the scenario passed",
				Example:     `Then the system should be fully operational`,
				Handler:     fullyOperational,
			},

			// Database
			{
				Keyword:     stepdef.When,
				Group:       "Database",
				Pattern:     `I check the PostgreSQL health endpoint`,
				Description: "Opens an admin connection to the Wildbook database server",
				Example:     `When I check the PostgreSQL health endpoint`,
				Handler:     s.checkPostgres,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Database",
				Pattern:     `the database should be accepting connections`,
				Description: "Asserts the health check connected",
				Example:     `Then the database should be accepting connections`,
				Handler:     dbAccepting,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Database",
				Pattern:     `the "{db_name}" database should exist`,
				Description: "Looks the database up in pg_database",
				Example:     `Then the "wildbook" database should exist`,
				Handler:     dbExists,
			},

			// Services
			{
				Keyword:     stepdef.When,
				Group:       "Services",
				Pattern:     `I send a GET request to "{endpoint}"`,
				Description: "GET a WBIA endpoint",
				Example:     `When I send a GET request to "/api/core/db/info/"`,
				Handler:     getWBIA,
			},
			{
				Keyword:     stepdef.When,
				Group:       "Services",
				Pattern:     `I visit the Wildbook homepage`,
				Description: "GET the Wildbook root URL",
				Example:     `When I visit the Wildbook homepage`,
				Handler:     visitWildbook,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Services",
				Pattern:     `the page should contain "{text}"`,
				Description: "Asserts the response body contains text",
				Example:     `Then the page should contain "Wildbook"`,
				Handler:     pageContains,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Services",
				Pattern:     `the page should contain the Wildbook marker`,
				Description: "Asserts the body contains WILDBOOK_MARKER",
				Example:     `Then the page should contain the Wildbook marker`,
				Handler:     pageContainsMarker,
			},
			{
				Keyword:     stepdef.When,
				Group:       "Services",
				Pattern:     `I send a GET request to "{endpoint}" on OpenSearch`,
				Description: "GET an OpenSearch endpoint",
				Example:     `When I send a GET request to "/_cluster/health" on OpenSearch`,
				Handler:     getOpenSearch,
			},
			{
				Keyword:     stepdef.Then,
				Group:       "Services",
				Pattern:     `the cluster status should be "{status1}" or "{status2}"`,
				Description: "Asserts the status field is one of two values",
				Example:     `Then the cluster status should be "green" or "yellow"`,
				Handler:     clusterStatus,
			},

			// Integration
			{
				Keyword:     stepdef.Given,
				Group:       "Integration",
				Pattern:     `WBIA is connected to PostgreSQL`,
				Description: "WBIA database info endpoint answers 200",
				Example:     `Given WBIA is connected to PostgreSQL`,
				Handler:     wbiaConnected,
			},
			{
				Keyword:     stepdef.Given,
				Group:       "Integration",
				Pattern:     `Wildbook is connected to PostgreSQL`,
				Description: "Wildbook root answers 200 or 302",
				Example:     `Given Wildbook is connected to PostgreSQL`,
				Handler:     wildbookConnected,
			},
			{
				Keyword:     stepdef.Given,
				Group:       "Integration",
				Pattern:     `Wildbook can reach WBIA`,
				Description: "WBIA database info endpoint answers 200",
				Example:     `Given Wildbook can reach WBIA`,
				Handler:     wbiaConnected,
			},
		},
	}
}

func (s *Steps) stackRunning(ctx context.Context, w *world.World, args stepdef.Args) error {
	cfg := w.Config.Stack
	lister := s.Stack
	if lister == nil {
		lister = stack.DockerLister{}
	}
	return stack.Verify(ctx, lister, cfg.ComposeProject, cfg.Services)
}

func fullyOperational(ctx context.Context, w *world.World, args stepdef.Args) error {
	return nil
}

// checkPostgres never fails; the outcome is asserted by later steps
func (s *Steps) checkPostgres(ctx context.Context, w *world.World, args stepdef.Args) error {
	w.ReleaseDB()

	db := w.Config.Databases
	dsn, err := dbcheck.AdminDSN(db.WildbookURI, db.AdminUser)
	if err == nil {
		var p dbcheck.Prober
		p, err = s.OpenDB(ctx, db.Driver, dsn)
		if err == nil {
			w.DB = p
		}
	}

	if err != nil {
		log.Debug().Err(err).Str("scenario", w.Scenario).Msg("database health check failed")
		w.Set(world.KeyDBHealthy, false)
		w.Set(world.KeyDBError, err.Error())
		return nil
	}
	w.Set(world.KeyDBHealthy, true)
	return nil
}

func dbAccepting(ctx context.Context, w *world.World, args stepdef.Args) error {
	v, _ := w.Get(world.KeyDBHealthy)
	if healthy, _ := v.(bool); healthy {
		return nil
	}
	if msg, err := w.String(world.KeyDBError); err == nil {
		return fmt.Errorf("database is not accepting connections: %s", msg)
	}
	return fmt.Errorf("database health has not been checked")
}

func dbExists(ctx context.Context, w *world.World, args stepdef.Args) error {
	name := args.String(0)
	if w.DB == nil {
		return fmt.Errorf("no database connection; check the PostgreSQL health endpoint first")
	}
	ok, err := w.DB.DatabaseExists(ctx, name)
	if err != nil {
		return fmt.Errorf("looking up database %q: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("database %q does not exist", name)
	}
	return nil
}

func getWBIA(ctx context.Context, w *world.World, args stepdef.Args) error {
	w.Apply(w.Session.Get(ctx, join(w.Config.Services.WBIA, args.String(0)), w.Config.Timeouts.Default))
	return nil
}

func visitWildbook(ctx context.Context, w *world.World, args stepdef.Args) error {
	w.Apply(w.Session.Get(ctx, w.Config.Services.Wildbook, w.Config.Timeouts.Default))
	return nil
}

func getOpenSearch(ctx context.Context, w *world.World, args stepdef.Args) error {
	w.Apply(w.Session.Get(ctx, join(w.Config.Services.OpenSearch, args.String(0)), w.Config.Timeouts.Default))
	return nil
}

func pageContains(ctx context.Context, w *world.World, args stepdef.Args) error {
	return containsText(w, args.String(0))
}

func pageContainsMarker(ctx context.Context, w *world.World, args stepdef.Args) error {
	return containsText(w, w.Config.Services.WildbookMarker)
}

func containsText(w *world.World, text string) error {
	if _, err := status(w); err != nil {
		return err
	}
	if !strings.Contains(w.ResponseText, text) {
		return fmt.Errorf("page does not contain %q", text)
	}
	return nil
}

func clusterStatus(ctx context.Context, w *world.World, args stepdef.Args) error {
	obj, err := w.ResponseObject()
	if err != nil {
		return err
	}
	got, ok := obj["status"].(string)
	if !ok {
		return fmt.Errorf("response has no string status field")
	}
	if got != args.String(0) && got != args.String(1) {
		return fmt.Errorf("expected cluster status %q or %q, got %q", args.String(0), args.String(1), got)
	}
	return nil
}

// probe checks a service without replacing the scenario's last response
func probe(ctx context.Context, w *world.World, url string, accept ...int) error {
	res := w.Session.Get(ctx, url, w.Config.Timeouts.Default)
	if res.Failed() {
		return fmt.Errorf("no response received from %s: %w", url, res.Err)
	}
	for _, code := range accept {
		if res.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("expected status %s from %s, got %d", joinInts(accept, " or "), url, res.StatusCode)
}

func wbiaConnected(ctx context.Context, w *world.World, args stepdef.Args) error {
	return probe(ctx, w, join(w.Config.Services.WBIA, wbiaInfoPath), http.StatusOK)
}

func wildbookConnected(ctx context.Context, w *world.World, args stepdef.Args) error {
	return probe(ctx, w, w.Config.Services.Wildbook, http.StatusOK, http.StatusFound)
}

func joinInts(ns []int, sep string) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, sep)
}
