// Package sqltest provides in-memory pgx rows for repository tests.
package sqltest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier answers every query with the same rows and records the last call.
type Querier struct {
	Rows [][]any
	Err  error

	SQL  string
	Args []any
}

func (q *Querier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.SQL = sql
	q.Args = args
	if q.Err != nil {
		return nil, q.Err
	}
	return &Rows{values: q.Rows, pos: -1}, nil
}

// Rows implements pgx.Rows over a fixed set of values.
type Rows struct {
	values [][]any
	pos    int
	err    error
	closed bool
}

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.closed || r.err != nil || r.pos+1 >= len(r.values) {
		r.closed = true
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]any, error) {
	return r.values[r.pos], nil
}

func (r *Rows) Scan(dest ...any) error {
	row := r.values[r.pos]
	if len(dest) != len(row) {
		r.err = fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
		return r.err
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			s, ok := row[i].(string)
			if !ok {
				return r.fail(i, row[i])
			}
			*d = s
		case *int:
			n, ok := row[i].(int)
			if !ok {
				return r.fail(i, row[i])
			}
			*d = n
		case *pgtype.Text:
			switch v := row[i].(type) {
			case nil:
				*d = pgtype.Text{}
			case string:
				*d = pgtype.Text{String: v, Valid: true}
			default:
				return r.fail(i, row[i])
			}
		default:
			r.err = fmt.Errorf("scan: unsupported destination %T", d)
			return r.err
		}
	}
	return nil
}

func (r *Rows) fail(col int, v any) error {
	r.err = fmt.Errorf("scan: column %d has unexpected value %T", col, v)
	return r.err
}
