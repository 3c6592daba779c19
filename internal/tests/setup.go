package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quickauth/server/internal/db"
)

// RunMigrations applies the embedded goose migrations.
func RunMigrations(database *sql.DB) error {
	return db.Migrate(database)
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE profiles, otp_sessions, identities RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}
