// Package schema reads destination column metadata from
// information_schema and caches it per namespace for the life of the
// process. The loader builds its insert statements from this metadata, so
// no per-table SQL is hard-coded.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

const columnsQuery = `
SELECT table_name, column_name, data_type, udt_name
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

// ErrEmpty is returned when the namespace has no tables.
var ErrEmpty = errors.New("schema: namespace has no columns")

// Querier is satisfied by *pgx.Conn, pgx.Tx and the postgres connector.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Column is one destination column with the type name usable in a cast.
type Column struct {
	Name string
	Type string
}

// Table is a destination table with its columns in ordinal order.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in ordinal order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnTypes returns the column types in ordinal order.
func (t Table) ColumnTypes() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Type
	}
	return out
}

// Schema maps table names to their columns within one namespace.
type Schema struct {
	Namespace string
	tables    map[string]Table
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (Table, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// TableNames returns the table names in sorted order.
func (s *Schema) TableNames() []string {
	out := make([]string, 0, len(s.tables))
	for n := range s.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Introspector resolves and caches schemas. The zero value is not usable;
// call New.
type Introspector struct {
	mu      sync.Mutex
	schemas map[string]*Schema
	lookups int
}

// New returns an empty introspector.
func New() *Introspector {
	return &Introspector{schemas: map[string]*Schema{}}
}

// Default is the process-wide introspector shared by the loader and CLI.
var Default = New()

// Resolve returns the schema for namespace, querying the catalog only on the
// first successful call. Failed lookups are not cached.
func (in *Introspector) Resolve(ctx context.Context, q Querier, namespace string) (*Schema, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if s, ok := in.schemas[namespace]; ok {
		return s, nil
	}
	in.lookups++

	s, err := load(ctx, q, namespace)
	if err != nil {
		return nil, err
	}
	in.schemas[namespace] = s
	return s, nil
}

// Lookups reports how many catalog queries have been issued.
func (in *Introspector) Lookups() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lookups
}

func load(ctx context.Context, q Querier, namespace string) (*Schema, error) {
	rows, err := q.Query(ctx, columnsQuery, namespace)
	if err != nil {
		return nil, fmt.Errorf("schema: query columns of %q: %w", namespace, err)
	}
	defer rows.Close()

	s := &Schema{Namespace: namespace, tables: map[string]Table{}}
	for rows.Next() {
		var table, column, dataType, udtName string
		if err := rows.Scan(&table, &column, &dataType, &udtName); err != nil {
			return nil, fmt.Errorf("schema: scan column of %q: %w", namespace, err)
		}
		t := s.tables[table]
		t.Name = table
		t.Columns = append(t.Columns, Column{Name: column, Type: castType(dataType, udtName)})
		s.tables[table] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: read columns of %q: %w", namespace, err)
	}
	if len(s.tables) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmpty, namespace)
	}
	return s, nil
}

// castType turns information_schema's data_type into a name usable after
// "::". Enums and domains report USER-DEFINED; arrays report ARRAY with an
// underscore-prefixed element udt.
func castType(dataType, udtName string) string {
	switch dataType {
	case "USER-DEFINED":
		return udtName
	case "ARRAY":
		return strings.TrimPrefix(udtName, "_") + "[]"
	}
	return dataType
}
