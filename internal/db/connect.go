package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB, tunes the pool, and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:classbridge.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/classbridge?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tunePool sets conservative defaults; SQLite gets a single connection to
// avoid busy errors under its single-writer model.
func tunePool(driver Driver, db *sql.DB) {
	maxOpen, maxIdle := 20, 10
	connLife := 45 * time.Minute
	if driver == DriverSQLite {
		maxOpen, maxIdle = 1, 1
		connLife = 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLife)
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS platform_registrations (
  id TEXT PRIMARY KEY,
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  client_secret TEXT NOT NULL DEFAULT '',
  deployment_id TEXT NOT NULL,
  auth_endpoint TEXT NOT NULL,
  jwks_endpoint TEXT NOT NULL DEFAULT '',
  token_endpoint TEXT NOT NULL DEFAULT '',
  token_audience TEXT NOT NULL DEFAULT '',
  tenant_ref TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS platform_registrations_lookup_idx
  ON platform_registrations (issuer, client_id, deployment_id);

CREATE TABLE IF NOT EXISTS stored_keys (
  kid TEXT NOT NULL,
  is_tool INTEGER NOT NULL DEFAULT 0,
  public_pem TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (kid, is_tool)
);

CREATE TABLE IF NOT EXISTS nonce_state (
  nonce TEXT PRIMARY KEY,
  state_hash TEXT NOT NULL,
  state_token TEXT NOT NULL,
  storage_target TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS nonce_state_hash_idx ON nonce_state (state_hash);
CREATE INDEX IF NOT EXISTS nonce_state_age_idx ON nonce_state (created_at);

CREATE TABLE IF NOT EXISTS one_use_tokens (
  token TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS one_use_tokens_age_idx ON one_use_tokens (created_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS platform_registrations (
  id TEXT PRIMARY KEY,
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  client_secret TEXT NOT NULL DEFAULT '',
  deployment_id TEXT NOT NULL,
  auth_endpoint TEXT NOT NULL,
  jwks_endpoint TEXT NOT NULL DEFAULT '',
  token_endpoint TEXT NOT NULL DEFAULT '',
  token_audience TEXT NOT NULL DEFAULT '',
  tenant_ref TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS platform_registrations_lookup_idx
  ON platform_registrations (issuer, client_id, deployment_id);

CREATE TABLE IF NOT EXISTS stored_keys (
  kid TEXT NOT NULL,
  is_tool BOOLEAN NOT NULL DEFAULT FALSE,
  public_pem TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  PRIMARY KEY (kid, is_tool)
);

CREATE TABLE IF NOT EXISTS nonce_state (
  nonce TEXT PRIMARY KEY,
  state_hash TEXT NOT NULL,
  state_token TEXT NOT NULL,
  storage_target TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS nonce_state_hash_idx ON nonce_state (state_hash);
CREATE INDEX IF NOT EXISTS nonce_state_age_idx ON nonce_state (created_at);

CREATE TABLE IF NOT EXISTS one_use_tokens (
  token TEXT PRIMARY KEY,
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS one_use_tokens_age_idx ON one_use_tokens (created_at);
`
