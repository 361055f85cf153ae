package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// RequiredTables are the tables the repository reads and writes.
var RequiredTables = []string{"sent_emails", "sent_emails_url_clicked"}

const migrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// MigrationResult reports one Migrate run.
type MigrationResult struct {
	Applied []string
	Skipped []string
	Failed  map[string]error
}

// Migrate applies every *.sql file in fsys, in name order, that is not yet
// recorded in schema_migrations. Each file runs in its own transaction with
// its bookkeeping row; a failing file is rolled back and reported while the
// rest still run.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS) (*MigrationResult, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	res := &MigrationResult{Failed: make(map[string]error)}
	for _, name := range files {
		if applied[name] {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := applyMigration(ctx, db, name, string(data)); err != nil {
			res.Failed[name] = err
			continue
		}
		res.Applied = append(res.Applied, name)
	}
	return res, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, name, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// VerifySchema checks that the tracker tables exist and that links are
// removed together with their message.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	var missing []string
	for _, table := range RequiredTables {
		var exists bool
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
	}

	const cascade = `
		SELECT EXISTS (
			SELECT 1 FROM pg_constraint
			WHERE conrelid = 'sent_emails_url_clicked'::regclass
			  AND confrelid = 'sent_emails'::regclass
			  AND contype = 'f' AND confdeltype = 'c'
		)`
	var ok bool
	if err := db.QueryRowContext(ctx, cascade).Scan(&ok); err != nil {
		return fmt.Errorf("check link foreign key: %w", err)
	}
	if !ok {
		return fmt.Errorf("sent_emails_url_clicked has no ON DELETE CASCADE key to sent_emails")
	}
	return nil
}
