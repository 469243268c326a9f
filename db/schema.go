package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// Schema is the PostgreSQL DDL for every authorization table.
//
//go:embed schema.sql
var Schema string

// ApplySchema creates missing tables and indexes. It is safe to run repeatedly.
func ApplySchema(ctx context.Context, pg *sql.DB) error {
	if _, err := pg.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
