package check

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"moviesetl/internal/storage/postgres"
)

// RowIter walks an ordered result. pgx.Rows satisfies it directly.
type RowIter interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Store is one side of a comparison.
type Store interface {
	// Name labels the side in reports, e.g. "source".
	Name() string
	Count(ctx context.Context, table string) (int64, error)
	// Rows returns the given columns of table ordered by id.
	Rows(ctx context.Context, table string, columns []string) (RowIter, error)
}

// SQLQuerier is satisfied by *sql.DB and the sqlite source connector.
type SQLQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore reads a database/sql store. Ids are compared case-insensitively,
// so rows are ordered by lower(id).
type SQLStore struct {
	name string
	q    SQLQuerier
}

// NewSQLStore returns a store reading through q.
func NewSQLStore(name string, q SQLQuerier) *SQLStore {
	return &SQLStore{name: name, q: q}
}

func (s *SQLStore) Name() string { return s.name }

func (s *SQLStore) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, "SELECT count(*) FROM "+postgres.Ident(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", s.name, table, err)
	}
	return n, nil
}

func (s *SQLStore) Rows(ctx context.Context, table string, columns []string) (RowIter, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY lower(%s)",
		strings.Join(postgres.Idents(columns), ", "), postgres.Ident(table), postgres.Ident("id"))
	rows, err := s.q.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: select %s: %w", s.name, table, err)
	}
	return &sqlRows{rows: rows, n: len(columns)}, nil
}

type sqlRows struct {
	rows *sql.Rows
	n    int
}

func (r *sqlRows) Next() bool { return r.rows.Next() }
func (r *sqlRows) Err() error { return r.rows.Err() }
func (r *sqlRows) Close()     { _ = r.rows.Close() }

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, r.n)
	ptrs := make([]any, r.n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

// PgQuerier is satisfied by *pgx.Conn, pgx.Tx and the postgres connector.
type PgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore reads tables inside one PostgreSQL namespace. Rows are ordered by
// the textual id in the C collation, which matches SQLite's byte order.
type PgStore struct {
	name      string
	q         PgQuerier
	namespace string
}

// NewPgStore returns a store reading namespace through q.
func NewPgStore(name string, q PgQuerier, namespace string) *PgStore {
	return &PgStore{name: name, q: q, namespace: namespace}
}

func (s *PgStore) Name() string { return s.name }

func (s *PgStore) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM "+postgres.FQN(s.namespace, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count %s.%s: %w", s.name, s.namespace, table, err)
	}
	return n, nil
}

func (s *PgStore) Rows(ctx context.Context, table string, columns []string) (RowIter, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s::text COLLATE "C"`,
		strings.Join(postgres.Idents(columns), ", "), postgres.FQN(s.namespace, table), postgres.Ident("id"))
	rows, err := s.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: select %s.%s: %w", s.name, s.namespace, table, err)
	}
	return rows, nil
}
