package sqlstore

import (
	"fmt"
	"strconv"

	"github.com/upb/audit-query/config"
)

// Dialect captures the few places where SQLite and PostgreSQL differ.
type Dialect struct {
	// Name is the config driver name
	Name string

	// DriverName is the database/sql driver name
	DriverName string

	// schema creates the audit_events table and its indexes
	schema string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// Placeholder returns the bind parameter for the n-th argument (1-based)
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Schema returns the DDL for the audit_events table
func (d Dialect) Schema() string {
	return d.schema
}

// The composite (created_at DESC, id DESC) index lets the window and cursor
// queries resolve in index depth plus limit. The actor and action indexes keep
// the same order so filtered keyset scans stay on an index.
const indexDDL = `
		CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_events_created_at_id ON audit_events(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_events_actor_created ON audit_events(actor_id, created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_events_action_created ON audit_events(action, created_at DESC, id DESC);
`

// SQLite is the embedded, disk-resident default
var SQLite = Dialect{
	Name:       config.DriverSQLite,
	DriverName: "sqlite3",
	schema: `
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			actor_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			payload_offset INTEGER NOT NULL,
			payload_len INTEGER NOT NULL
		);
` + indexDDL,
}

// Postgres serves the same table from a PostgreSQL server
var Postgres = Dialect{
	Name:       config.DriverPostgres,
	DriverName: "postgres",
	numbered:   true,
	schema: `
		CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			created_at BIGINT NOT NULL,
			actor_id BIGINT NOT NULL,
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(100) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			payload_offset BIGINT NOT NULL,
			payload_len BIGINT NOT NULL
		);
` + indexDDL,
}

// DialectFor returns the dialect for a configured driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverSQLite:
		return SQLite, nil
	case config.DriverPostgres:
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}
