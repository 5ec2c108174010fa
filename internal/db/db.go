// Package db bootstraps the Postgres connection pool and runs schema
// migrations for the metadata store. Grounded on the teacher's
// internal/db.go for the pool-then-ping construction and
// golang-migrate wiring; the pool sizing and health-check timeout
// below are specific to this service's concurrency shape.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// reservedConns accounts for the callers that hit Postgres outside a
// fetch cycle: the health handler's Ping and the boot-time
// LoadFromStore scan.
const reservedConns = 2

type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool sized to this deployment's fetch concurrency: one
// connection per FetchScheduler worker plus reservedConns headroom,
// so a burst of concurrent provider fetches can't starve the
// health-check or boot-recovery paths of a connection.
func New(ctx context.Context, databaseURL string, fetchingThreads int) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse connection string: %w", err)
	}
	if fetchingThreads > 0 {
		poolCfg.MaxConns = int32(fetchingThreads) + reservedConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: initial ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// HealthCheck pings the pool with a short, bounded timeout so a
// wedged database can't hang the /healthz handler indefinitely.
func (d *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("db: health check: %w", err)
	}
	return nil
}

// RunMigrations applies every pending migration under migrationsPath,
// treating "already up to date" as success rather than an error.
func RunMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("db: open migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("db: apply migrations: %w", err)
	}
	return nil
}
