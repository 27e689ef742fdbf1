//go:build integration

package dbcheck

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway server with a "wildbook" database and
// returns an application URI pointing at it.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_PASSWORD": "wildbook",
				"POSTGRES_DB":       "wildbook",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting host: %v", err)
	}
	port, err := container.MappedPort(ctx, nat.Port("5432/tcp"))
	if err != nil {
		t.Fatalf("getting port: %v", err)
	}

	return fmt.Sprintf("postgresql://wildbook:wildbook@%s:%s/wildbook", host, port.Port())
}

func TestProbers_AgainstPostgres(t *testing.T) {
	uri := startPostgres(t)

	dsn, err := AdminDSN(uri, "postgres")
	if err != nil {
		t.Fatalf("building dsn: %v", err)
	}

	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			p, err := Open(ctx, driver, dsn)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer p.Close()

			if err := p.Ping(ctx); err != nil {
				t.Fatalf("ping: %v", err)
			}

			ok, err := p.DatabaseExists(ctx, "wildbook")
			if err != nil {
				t.Fatalf("catalog query: %v", err)
			}
			if !ok {
				t.Error("expected wildbook database to exist")
			}

			ok, err = p.DatabaseExists(ctx, "no_such_db")
			if err != nil {
				t.Fatalf("catalog query: %v", err)
			}
			if ok {
				t.Error("expected no_such_db to be missing")
			}
		})
	}
}
