// Package sqlstore persists policy versions, rollout state, tenant
// overrides, and the audit log in SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS policy_version (
	version    TEXT PRIMARY KEY,
	sha256     BLOB NOT NULL,
	path       TEXT NOT NULL,
	sig_path   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_rollout (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	active_version TEXT NOT NULL,
	canary_version TEXT,
	canary_percent INTEGER NOT NULL DEFAULT 0,
	seed           INTEGER NOT NULL DEFAULT 0,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenant_policy_override (
	tenant     TEXT PRIMARY KEY,
	version    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	tenant      TEXT NOT NULL,
	subject     TEXT NOT NULL,
	tool        TEXT NOT NULL,
	args        TEXT NOT NULL,
	decision    TEXT NOT NULL,
	rule        TEXT NOT NULL,
	result_meta TEXT,
	approver    TEXT,
	hash        BLOB NOT NULL,
	prev_hash   BLOB
);

CREATE TABLE IF NOT EXISTS tenant_settings (
	tenant     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tenant, kind)
);
`

// Open opens (or creates) the SQLite database at path and applies the
// schema. Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
