package sqlutil

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the read side of a pgx pool, connection or transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Helper functions for converting between Go types and pgtype values

// FromText converts pgtype.Text to a Go string with default
func FromText(val pgtype.Text, defaultVal string) string {
	if !val.Valid || val.String == "" {
		return defaultVal
	}
	return val.String
}
