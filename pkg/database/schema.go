package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql

	"github.com/chatlift/skypeetl/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// RequiredTables are the tables the loader depends on.
var RequiredTables = []string{
	"archives", "users", "conversations", "participants", "messages", "attachments",
}

// namedIndexes are created after the tables, outside any load transaction.
var namedIndexes = map[string]string{
	"idx_messages_conversation_id": "CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages (conversation_id)",
	"idx_messages_from_id":         "CREATE INDEX IF NOT EXISTS idx_messages_from_id ON messages (sender_id)",
	"idx_messages_timestamp":       "CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp)",
	"idx_attachments_message_id":   "CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments (message_id)",
}

// SchemaManager creates the schema if absent. All DDL is idempotent and
// runs on a dedicated database/sql connection, never inside the load
// transaction.
type SchemaManager struct {
	dbCfg config.DatabaseConfig
	log   *slog.Logger
}

// NewSchemaManager creates a schema manager for the configured database.
func NewSchemaManager(dbCfg config.DatabaseConfig) *SchemaManager {
	return &SchemaManager{dbCfg: dbCfg, log: slog.With("component", "schema")}
}

// Ensure probes information_schema for the required tables, applies the
// embedded migrations when any are missing, and creates the named indexes.
// Running it against an up-to-date database is a no-op.
func (s *SchemaManager) Ensure(ctx context.Context) error {
	db, err := sql.Open("pgx", s.dbCfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database for DDL: %w", err)
	}
	defer func() { _ = db.Close() }()

	missing, err := s.missingTables(ctx, db)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		s.log.Info("Creating schema", "missing_tables", missing)
		if err := s.runMigrations(db); err != nil {
			return err
		}
	}

	for name, ddl := range namedIndexes {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}

// TableExists probes information_schema for one table in the current
// search path's schema.
func (s *SchemaManager) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

func (s *SchemaManager) missingTables(ctx context.Context, db *sql.DB) ([]string, error) {
	var missing []string
	for _, table := range RequiredTables {
		exists, err := s.TableExists(ctx, db, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// runMigrations applies the embedded migration files with golang-migrate.
// The migration SQL itself uses CREATE ... IF NOT EXISTS, so a concurrent
// or repeated run converges on the same schema.
func (s *SchemaManager) runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, s.dbCfg.DBName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver; closing m would also close the shared
	// *sql.DB out from under the caller.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}
