package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schema string

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 74_310_001

// Schema returns the DDL applied by Migrate.
func Schema() string {
	return schema
}

// Migrate creates every table and index the engine needs in one
// transaction. It is idempotent.
func (db *Database) Migrate(ctx context.Context) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}
