// Package dbcheck probes PostgreSQL servers backing the deployment.
package dbcheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/lib/pq"
)

const catalogQuery = "SELECT datname FROM pg_database WHERE datname = $1"

// Prober is a single scoped connection. Callers must Close it.
type Prober interface {
	Ping(ctx context.Context) error
	// DatabaseExists reports whether the catalog holds a database named name
	DatabaseExists(ctx context.Context, name string) (bool, error)
	Close() error
}

// Open connects with the given driver: "postgres" uses lib/pq through
// database/sql, "pgx" uses a native pgx connection.
func Open(ctx context.Context, driver, dsn string) (Prober, error) {
	switch driver {
	case "", "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		// one connection is enough for a probe
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return &sqlProber{db: db}, nil
	case "pgx":
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return &pgxProber{conn: conn}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// AdminDSN derives a connection string for the server's maintenance database
// from an application database URI: same host, port and password, the given
// admin user, database "postgres" and a 5 second connect timeout.
func AdminDSN(uri, adminUser string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing database uri: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("database uri %q has no host", uri)
	}

	password, _ := u.User.Password()
	if adminUser == "" {
		adminUser = u.User.Username()
	}
	if password != "" {
		u.User = url.UserPassword(adminUser, password)
	} else {
		u.User = url.User(adminUser)
	}
	u.Scheme = "postgres"
	u.Path = "/postgres"

	q := u.Query()
	q.Set("connect_timeout", "5")
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// DatabaseName returns the database an application URI points at
func DatabaseName(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing database uri: %w", err)
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("database uri %q names no database", uri)
	}
	return name, nil
}

type sqlProber struct {
	db *sql.DB
}

func (p *sqlProber) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *sqlProber) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var got string
	err := p.db.QueryRowContext(ctx, catalogQuery, name).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying pg_database: %w", err)
	}
	return got == name, nil
}

func (p *sqlProber) Close() error { return p.db.Close() }

type pgxProber struct {
	conn *pgx.Conn
}

func (p *pgxProber) Ping(ctx context.Context) error { return p.conn.Ping(ctx) }

func (p *pgxProber) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var got string
	err := p.conn.QueryRow(ctx, catalogQuery, name).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying pg_database: %w", err)
	}
	return got == name, nil
}

func (p *pgxProber) Close() error { return p.conn.Close(context.Background()) }
