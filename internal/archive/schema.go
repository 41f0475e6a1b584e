package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is valid for both SQLite and Postgres. Seeds are stored as text
// because Postgres has no unsigned 64-bit integer.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    scenario TEXT NOT NULL,
    seed TEXT NOT NULL,
    monosome_fitness DOUBLE PRECISION NOT NULL,
    monosome_rate DOUBLE PRECISION NOT NULL,
    revert_rate DOUBLE PRECISION NOT NULL,
    ploidy INTEGER NOT NULL,
    target_size BIGINT NOT NULL,
    replicates INTEGER NOT NULL,
    cleanup INTEGER NOT NULL DEFAULT 0,
    max_generations INTEGER NOT NULL DEFAULT 0,
    founder_state TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

-- One row per culture
CREATE TABLE IF NOT EXISTS replicates (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    replicate INTEGER NOT NULL,
    seed TEXT NOT NULL,
    m_monosome INTEGER NOT NULL,
    m_revert INTEGER NOT NULL,
    n_monosome BIGINT NOT NULL,
    n_revert BIGINT NOT NULL,
    n_total BIGINT NOT NULL,
    final_size BIGINT NOT NULL,
    generations INTEGER NOT NULL,
    compute_time_ns BIGINT NOT NULL,
    PRIMARY KEY (run_id, replicate)
);

-- Mutation event logs, kind is 'monosome' or 'revert'
CREATE TABLE IF NOT EXISTS events (
    run_id TEXT NOT NULL,
    replicate INTEGER NOT NULL,
    kind TEXT NOT NULL,
    seq INTEGER NOT NULL,
    cell_id BIGINT NOT NULL,
    generation INTEGER NOT NULL,
    PRIMARY KEY (run_id, replicate, kind, seq),
    FOREIGN KEY (run_id, replicate) REFERENCES replicates(run_id, replicate) ON DELETE CASCADE
);

-- Fit history, estimate columns are NULL when the fit failed
CREATE TABLE IF NOT EXISTS fits (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    mutant TEXT NOT NULL,
    model TEXT NOT NULL,
    w DOUBLE PRECISION NOT NULL,
    nt DOUBLE PRECISION NOT NULL,
    upper_bound INTEGER NOT NULL DEFAULT 0,
    counts TEXT NOT NULL,
    m DOUBLE PRECISION,
    m_lower DOUBLE PRECISION,
    m_upper DOUBLE PRECISION,
    mu DOUBLE PRECISION,
    mu_lower DOUBLE PRECISION,
    mu_upper DOUBLE PRECISION,
    failure TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
);
`

// InitSchema initializes the database schema.
// It creates all tables and applies migrations as needed.
// Runs integrity validation before migrations on existing databases.
func InitSchema(ctx context.Context, db *sql.DB, d dialect) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		// Schema version table doesn't exist yet, create fresh schema
		if err := createSchema(ctx, db, d); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db, d); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns 0 and an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, fmt.Errorf("schema_version is empty")
	}
	return int(version.Int64), nil
}

// execer is the subset of *sql.DB and *sql.Tx used to apply DDL.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createSchema(ctx context.Context, db *sql.DB, d dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyStatements(ctx, tx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
		SchemaVersion, formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// applyStatements runs each statement of script separately. pgx sends one
// statement per exec.
func applyStatements(ctx context.Context, ex execer, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// splitStatements splits a script on semicolons, dropping comment lines and
// empty statements.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	return line
}

// migrateSchema applies migrations from currentVersion to SchemaVersion.
func migrateSchema(ctx context.Context, db *sql.DB, currentVersion int) error {
	// Only one version so far; v2 migrations go here.
	_ = currentVersion
	return nil
}

// ValidateIntegrity runs the dialect's integrity checks. On SQLite that is
// PRAGMA integrity_check and PRAGMA foreign_key_check; Postgres enforces
// both on write and has nothing to check.
func ValidateIntegrity(ctx context.Context, db *sql.DB, d dialect) error {
	if d.name != DriverSQLite {
		return nil
	}

	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()

	var fkErrors []string
	for fkRows.Next() {
		var table, parent string
		var rowid, fkid sql.NullInt64
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		fkErrors = append(fkErrors, fmt.Sprintf("table=%s rowid=%d parent=%s fkid=%d", table, rowid.Int64, parent, fkid.Int64))
	}
	if len(fkErrors) > 0 {
		return fmt.Errorf("foreign_key_check failed: %v", fkErrors)
	}
	return fkRows.Err()
}
