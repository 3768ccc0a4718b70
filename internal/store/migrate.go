package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationPattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
	Applied  bool
}

// ListMigrations pairs the up and down files in dir and marks the ones
// recorded in schema_migrations.
func ListMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]Migration, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := readMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	for i := range migrations {
		applied, err := isMigrated(ctx, db, migrations[i].Name)
		if err != nil {
			return nil, err
		}
		migrations[i].Applied = applied
	}
	return migrations, nil
}

// ApplyMigrations runs every pending up file in version order, each in its
// own transaction, and returns the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	migrations, err := ListMigrations(ctx, db, migrationsDir)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0)
	for _, m := range migrations {
		if m.Applied {
			continue
		}
		if m.UpPath == "" {
			return applied, fmt.Errorf("migration %s has no up file", m.Version)
		}
		contents, err := os.ReadFile(m.UpPath)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", m.Name, err)
		}
		err = runMigration(ctx, db, m.Name, string(contents), `INSERT INTO schema_migrations(version) VALUES($1)`)
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.Name)
	}
	return applied, nil
}

// RollbackMigrations reverts the latest steps applied migrations.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) ([]string, error) {
	migrations, err := ListMigrations(ctx, db, migrationsDir)
	if err != nil {
		return nil, err
	}
	reverted := make([]string, 0, steps)
	for i := len(migrations) - 1; i >= 0 && len(reverted) < steps; i-- {
		m := migrations[i]
		if !m.Applied {
			continue
		}
		if m.DownPath == "" {
			return reverted, fmt.Errorf("migration %s has no down file", m.Version)
		}
		contents, err := os.ReadFile(m.DownPath)
		if err != nil {
			return reverted, fmt.Errorf("read migration %s: %w", m.DownPath, err)
		}
		err = runMigration(ctx, db, m.Name, string(contents), `DELETE FROM schema_migrations WHERE version=$1`)
		if err != nil {
			return reverted, err
		}
		reverted = append(reverted, m.Name)
	}
	return reverted, nil
}

func runMigration(ctx context.Context, db *sql.DB, name, contents, record string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if strings.TrimSpace(contents) != "" {
		if _, err := tx.ExecContext(ctx, contents); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// readMigrations keys applied state on the up file's base name, which is
// what schema_migrations stores.
func readMigrations(migrationsDir string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		m, ok := byVersion[match[1]]
		if !ok {
			m = &Migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		path := filepath.Join(migrationsDir, entry.Name())
		if match[2] == "up" {
			m.UpPath = path
			m.Name = entry.Name()
		} else {
			m.DownPath = path
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Name == "" {
			m.Name = m.Version + "_missing.up.sql"
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
