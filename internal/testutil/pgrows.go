package testutil

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is an in-memory pgx.Rows. Scan supports *string, *int64, *int and
// *any destinations, which covers the catalog and checker queries.
type Rows struct {
	Data   [][]any
	Fail   error // returned by Err after the data is exhausted
	pos    int
	Closed bool
}

var _ pgx.Rows = (*Rows)(nil)

// NewRows builds Rows from literal records.
func NewRows(data ...[]any) *Rows { return &Rows{Data: data} }

func (r *Rows) Close()                                       { r.Closed = true }
func (r *Rows) Err() error                                   { return r.Fail }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.Closed || r.pos >= len(r.Data) {
		r.Closed = true
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.Data) {
		return nil, fmt.Errorf("testutil: Values called without a current row")
	}
	return r.Data[r.pos-1], nil
}

func (r *Rows) Scan(dest ...any) error {
	row, err := r.Values()
	if err != nil {
		return err
	}
	if len(dest) != len(row) {
		return fmt.Errorf("testutil: scan %d destinations into %d values", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *any:
			*p = row[i]
		case *string:
			s, ok := row[i].(string)
			if !ok {
				return fmt.Errorf("testutil: column %d is %T, not string", i, row[i])
			}
			*p = s
		case *int64:
			n, ok := row[i].(int64)
			if !ok {
				return fmt.Errorf("testutil: column %d is %T, not int64", i, row[i])
			}
			*p = n
		case *int:
			n, ok := row[i].(int)
			if !ok {
				return fmt.Errorf("testutil: column %d is %T, not int", i, row[i])
			}
			*p = n
		default:
			return fmt.Errorf("testutil: unsupported scan destination %T", d)
		}
	}
	return nil
}

// Row adapts a single result to pgx.Row.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	rows := NewRows(r.Values)
	rows.Next()
	return rows.Scan(dest...)
}
