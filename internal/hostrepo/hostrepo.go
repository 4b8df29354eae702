// Package hostrepo is a reference pluginapi.Repository implementation
// backed by SQLite. The plugin's own logic (internal/registry,
// internal/migration) only ever depends on the pluginapi.Repository
// interface; this package exists to demonstrate one concrete store a host
// could wire in, and to give the plugin something real to run against in
// standalone mode (see main.go). Use of modernc.org/sqlite for local
// embedded state is grounded on the pack's miken90-goclaw/vanducng-goclaw
// agent-state stores.
package hostrepo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// schema creates the sandbox_registry table described in §6 "Persisted
// state": primary key id, indexes on sessionKey, containerName,
// lastUsedAtMs.
const schema = `
CREATE TABLE IF NOT EXISTS sandbox_registry (
	id             TEXT PRIMARY KEY,
	container_name TEXT NOT NULL,
	session_key    TEXT NOT NULL,
	created_at_ms  INTEGER NOT NULL,
	last_used_at_ms INTEGER NOT NULL,
	image          TEXT NOT NULL,
	config_hash    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sandbox_registry_session_key ON sandbox_registry(session_key);
CREATE INDEX IF NOT EXISTS idx_sandbox_registry_container_name ON sandbox_registry(container_name);
CREATE INDEX IF NOT EXISTS idx_sandbox_registry_last_used_at_ms ON sandbox_registry(last_used_at_ms);
`

// Repository is a SQLite-backed pluginapi.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sandbox registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sandbox registry database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one connection avoids SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sandbox registry schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

// Get implements pluginapi.Repository.
func (r *Repository) Get(ctx context.Context, id string) (pluginapi.SandboxRegistryRecord, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, container_name, session_key, created_at_ms, last_used_at_ms, image, config_hash
		 FROM sandbox_registry WHERE id = ?`, id)

	var rec pluginapi.SandboxRegistryRecord
	var idVal string
	err := row.Scan(&idVal, &rec.ContainerName, &rec.SessionKey, &rec.CreatedAtMs, &rec.LastUsedAtMs, &rec.Image, &rec.ConfigHash)
	if err == sql.ErrNoRows {
		return pluginapi.SandboxRegistryRecord{}, false, nil
	}
	if err != nil {
		return pluginapi.SandboxRegistryRecord{}, false, err
	}
	rec.ID = idVal
	return rec, true, nil
}

// Put implements pluginapi.Repository. insertOnly=true fails with
// pluginapi.ErrConflict if a row already exists under rec.ID.
func (r *Repository) Put(ctx context.Context, rec pluginapi.SandboxRegistryRecord, insertOnly bool) error {
	id := rec.ID
	if id == "" {
		id = rec.ContainerName
	}

	if insertOnly {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO sandbox_registry (id, container_name, session_key, created_at_ms, last_used_at_ms, image, config_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, rec.ContainerName, rec.SessionKey, rec.CreatedAtMs, rec.LastUsedAtMs, rec.Image, rec.ConfigHash)
		if err != nil {
			if isUniqueConstraintErr(err) {
				return pluginapi.ErrConflict
			}
			return err
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sandbox_registry (id, container_name, session_key, created_at_ms, last_used_at_ms, image, config_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			container_name=excluded.container_name,
			session_key=excluded.session_key,
			created_at_ms=excluded.created_at_ms,
			last_used_at_ms=excluded.last_used_at_ms,
			image=excluded.image,
			config_hash=excluded.config_hash`,
		id, rec.ContainerName, rec.SessionKey, rec.CreatedAtMs, rec.LastUsedAtMs, rec.Image, rec.ConfigHash)
	return err
}

// Delete implements pluginapi.Repository.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sandbox_registry WHERE id = ?`, id)
	return err
}

// List implements pluginapi.Repository.
func (r *Repository) List(ctx context.Context) ([]pluginapi.SandboxRegistryRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, container_name, session_key, created_at_ms, last_used_at_ms, image, config_hash FROM sandbox_registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pluginapi.SandboxRegistryRecord
	for rows.Next() {
		var rec pluginapi.SandboxRegistryRecord
		if err := rows.Scan(&rec.ID, &rec.ContainerName, &rec.SessionKey, &rec.CreatedAtMs, &rec.LastUsedAtMs, &rec.Image, &rec.ConfigHash); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
