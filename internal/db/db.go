// Package db handles the Postgres side of a PgOSM Flex run: readiness
// polling, database preparation, schema rename, nested polygon calculation
// and the final pg_dump export.
package db

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgosmDBName is the throwaway database each run imports into.
const PgosmDBName = "pgosm"

// ConnectionString builds a connection string for dbName from the Postgres
// Docker image environment contract (POSTGRES_USER / POSTGRES_PASSWORD,
// defaulting to the postgres user with no password).
func ConnectionString(dbName string) string {
	user, pass := pgUserPass()
	const appStr = "?application_name=pgosm-flex"

	if pass == "" {
		return fmt.Sprintf("postgresql://%s@localhost/%s%s", user, dbName, appStr)
	}
	return fmt.Sprintf("postgresql://%s:%s@localhost/%s%s", user, pass, dbName, appStr)
}

// SqitchConnectionString builds the db:pg:// style string Sqitch expects.
func SqitchConnectionString(dbName string) string {
	user, pass := pgUserPass()

	if pass == "" {
		return fmt.Sprintf("db:pg://%s@localhost/%s", user, dbName)
	}
	return fmt.Sprintf("db:pg://%s:%s@localhost/%s", user, pass, dbName)
}

func pgUserPass() (string, string) {
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	return user, os.Getenv("POSTGRES_PASSWORD")
}

// DB wraps a connection pool to one database.
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a verified connection pool.
func Connect(ctx context.Context, connStr string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Exec runs a single statement on the pool.
func (db *DB) Exec(ctx context.Context, sql string) error {
	_, err := db.pool.Exec(ctx, sql)
	return err
}

// QueryRowScan runs a single-row query and scans the result.
func (db *DB) QueryRowScan(ctx context.Context, sql string, dest ...any) error {
	return db.pool.QueryRow(ctx, sql).Scan(dest...)
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
