// Package tests runs the verification flow end to end over HTTP against
// each store backend.
package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// TruncateVerifications empties the verifications table and resets its id sequence.
func TruncateVerifications(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE verifications RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("truncate verifications: %w", err)
	}
	return nil
}
