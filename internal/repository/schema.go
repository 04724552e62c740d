package repository

import (
	"context"
	"database/sql"
	_ "embed"
)

//go:embed migrations/schema.sql
var schema string

// EnsureSchema creates tables and indexes if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
