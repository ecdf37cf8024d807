package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/stapelberg/postgrestest"
)

// EphemeralPostgres is a throwaway PostgreSQL server with one fresh database
type EphemeralPostgres struct {
	db     *sql.DB
	server *postgrestest.Server
	DSN    string
}

// SetupEphemeralPostgresDatabase starts a temporary PostgreSQL server and connects to a new database on it
func SetupEphemeralPostgresDatabase(ctx context.Context) (*EphemeralPostgres, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}
	Logger.Info("Ephemeral PostgreSQL server started", "dsn", pgt.DefaultDatabase())

	dsn, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to create pdfpages database: %w", err)
	}
	Logger.Info("Created ephemeral database", "dsn", dsn)

	// postgrestest hands out key=value DSNs which lib/pq understands
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to open pdfpages database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		pgt.Cleanup()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	Logger.Info("Connected to ephemeral PostgreSQL database successfully")
	return &EphemeralPostgres{db: db, server: pgt, DSN: dsn}, nil
}

// Cleanup stops the server. The connection is closed by whoever owns it.
func (e *EphemeralPostgres) Cleanup() {
	if e.server != nil {
		Logger.Info("Cleaning up ephemeral PostgreSQL server...")
		e.server.Cleanup()
		e.server = nil
		Logger.Info("Ephemeral PostgreSQL server cleaned up")
	}
}
