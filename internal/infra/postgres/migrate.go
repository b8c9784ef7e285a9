package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"github.com/example/fundflow/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DDL policies control what Migrate does at startup.
const (
	DDLCreate     = "create"      // drop everything, then create
	DDLCreateDrop = "create-drop" // like create; caller drops again on shutdown
	DDLUpdate     = "update"      // apply idempotent DDL, keep existing data
	DDLValidate   = "validate"    // fail unless the expected tables exist
	DDLNone       = "none"        // touch nothing
)

var managedTables = []string{"journal_entries", "transfer_records", "accounts"}

// Migrate applies the embedded schema according to the DDL policy.
func Migrate(ctx context.Context, db *DB, policy string, log *logger.Logger) error {
	switch policy {
	case DDLNone:
		return nil
	case DDLValidate:
		return validateSchema(ctx, db)
	case DDLCreate, DDLCreateDrop:
		if err := Drop(ctx, db); err != nil {
			return err
		}
		fallthrough
	case DDLUpdate, "":
		return applyMigrations(ctx, db, log)
	default:
		return fmt.Errorf("unknown DDL policy %q", policy)
	}
}

// Drop removes all managed tables. Used by the create policies and by
// create-drop shutdown.
func Drop(ctx context.Context, db *DB) error {
	for _, table := range managedTables {
		if _, err := db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}

func applyMigrations(ctx context.Context, db *DB, log *logger.Logger) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		if log != nil {
			log.Debug("applied migration", "file", name)
		}
	}

	return nil
}

func validateSchema(ctx context.Context, db *DB) error {
	const query = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`

	for _, table := range managedTables {
		var exists bool
		if err := db.QueryRow(ctx, query, table).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("schema validation failed: table %s does not exist", table)
		}
	}
	return nil
}
