package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// sqliteMigration is one schema step applied by runMigrations
type sqliteMigration struct {
	version string
	name    string
	up      func(context.Context, *bun.DB) error
}

// sqliteMigrations mirror the SQL files under migrations/ used for postgres
var sqliteMigrations = []sqliteMigration{
	{"001", "create_documents", init001CreateDocumentsTable},
	{"002", "create_page_catalog", init002CreatePageCatalog},
	{"003", "create_jobs_table", init003CreateJobsTable},
}

// runMigrations runs all Bun migrations
func (b *BunDB) runMigrations(ctx context.Context) error {
	// Create a simple migrations tracking table
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bun_schema_migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	type AppliedMigration struct {
		bun.BaseModel `bun:"table:bun_schema_migrations"`
		Version       string `bun:"version"`
	}
	var applied []AppliedMigration
	err = b.db.NewSelect().
		Model(&applied).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	for _, m := range sqliteMigrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, b.db); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}

		_, err = b.db.NewInsert().
			Model(&AppliedMigration{Version: m.version}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// createTable creates the model's table and the named single column indexes
func createTable(ctx context.Context, db *bun.DB, model any, indexes map[string]string) error {
	if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	for name, column := range indexes {
		_, err := db.NewCreateIndex().
			Model(model).
			Index(name).
			Column(column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}

// Migration 001: documents
func init001CreateDocumentsTable(ctx context.Context, db *bun.DB) error {
	return createTable(ctx, db, (*BunDocument)(nil), map[string]string{
		"idx_documents_hash":         "hash",
		"idx_documents_ingress_time": "ingress_time",
	})
}

// Migration 002: cached page boxes and links
func init002CreatePageCatalog(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*BunPage)(nil), (*BunPageBox)(nil), (*BunPageLink)(nil)} {
		if err := createTable(ctx, db, model, nil); err != nil {
			return err
		}
	}
	return nil
}

// Migration 003: jobs
func init003CreateJobsTable(ctx context.Context, db *bun.DB) error {
	return createTable(ctx, db, (*BunJob)(nil), map[string]string{
		"idx_jobs_status":     "status",
		"idx_jobs_created_at": "created_at",
	})
}
