// Package migrate runs the schema that §6 of the core design doc treats
// as authoritative. There's no migration framework anywhere in the
// retrieved example repos to justify pulling one in (ecron ships its
// schema by hand too), so this just executes one embedded, idempotent SQL
// file through database/sql - "init" is a one-shot operator action, not a
// hot path that needs versioned up/down migrations.
package migrate

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Run executes the embedded schema against db. It is safe to call
// against an already-initialized database - every statement in schema.sql
// is written to be idempotent (create-if-not-exists, catch duplicate_object).
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: couldn't apply schema: %w", err)
	}
	return nil
}
