package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration describes one applied or pending schema_migrations row.
type Migration struct {
	Filename    string
	Checksum    string
	AppliedAt   time.Time
	Success     bool
	ExecutionMS int64
	Error       string
}

const bootstrapLedgerSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    filename     TEXT PRIMARY KEY,
    checksum     TEXT NOT NULL,
    applied_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    success      BOOLEAN NOT NULL,
    execution_ms BIGINT NOT NULL,
    error        TEXT
);`

// RunMigrations scans dir for files named NN_description.sql and applies any
// not already recorded in schema_migrations, in ascending filename order,
// each inside its own transaction. A failed migration aborts startup: the
// failure is recorded in the ledger and returned to the caller. Re-running
// after every migration already succeeded is a no-op.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	if _, err := pool.Exec(ctx, bootstrapLedgerSQL); err != nil {
		return fmt.Errorf("bootstrapping schema_migrations: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, `SELECT filename FROM schema_migrations WHERE success`)
	if err != nil {
		return fmt.Errorf("loading migration ledger: %w", err)
	}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return err
		}
		applied[f] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range files {
		if applied[f] {
			continue
		}

		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", f, err)
		}
		sum := sha256.Sum256(data)
		checksum := hex.EncodeToString(sum[:])

		slog.Info("store: applying migration", "file", f)
		start := time.Now()

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning migration tx for %s: %w", f, err)
		}

		_, execErr := tx.Exec(ctx, string(data))
		elapsed := time.Since(start).Milliseconds()

		if execErr != nil {
			tx.Rollback(ctx)
			recordErr := recordMigration(ctx, pool, f, checksum, false, elapsed, execErr.Error())
			if recordErr != nil {
				slog.Error("store: failed to record failed migration", "file", f, "record_error", recordErr)
			}
			return fmt.Errorf("applying migration %s: %w", f, execErr)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (filename, checksum, success, execution_ms, error)
			 VALUES ($1, $2, true, $3, NULL)
			 ON CONFLICT (filename) DO UPDATE
			 SET checksum = EXCLUDED.checksum, applied_at = now(),
			     success = true, execution_ms = EXCLUDED.execution_ms, error = NULL`,
			f, checksum, elapsed); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("recording migration %s: %w", f, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing migration %s: %w", f, err)
		}

		slog.Info("store: migration applied", "file", f, "elapsed_ms", elapsed)
	}

	return nil
}

func recordMigration(ctx context.Context, pool *pgxpool.Pool, filename, checksum string, success bool, executionMS int64, errMsg string) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO schema_migrations (filename, checksum, success, execution_ms, error)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (filename) DO UPDATE
		 SET checksum = EXCLUDED.checksum, applied_at = now(),
		     success = EXCLUDED.success, execution_ms = EXCLUDED.execution_ms, error = EXCLUDED.error`,
		filename, checksum, success, executionMS, errMsg)
	return err
}

// ListMigrations returns the migration ledger ordered by filename, for
// diagnostics and the cmd/migrate binary's --status flag.
func ListMigrations(ctx context.Context, pool *pgxpool.Pool) ([]Migration, error) {
	rows, err := pool.Query(ctx,
		`SELECT filename, checksum, applied_at, success, execution_ms, COALESCE(error, '')
		 FROM schema_migrations ORDER BY filename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Filename, &m.Checksum, &m.AppliedAt, &m.Success, &m.ExecutionMS, &m.Error); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
