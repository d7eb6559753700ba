package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DestColumn is one column of a fake destination table.
type DestColumn struct {
	Name string
	Type string
}

// DestTable models one destination table with its unique keys and foreign
// keys. Unique keys follow PostgreSQL semantics: a NULL in any key column
// never conflicts.
type DestTable struct {
	Name    string
	Columns []DestColumn
	Unique  [][]string
	Parents map[string]string // fk column -> parent table
	Rows    []map[string]any
}

// FakeDest is an in-memory stand-in for a destination transaction. It
// serves the information_schema query, named prepared statements and
// pipelined batches, and applies unique and foreign-key constraints the way
// an INSERT ... ON CONFLICT DO NOTHING would.
type FakeDest struct {
	Namespace string
	Tables    map[string]*DestTable

	Prepared     map[string]string
	Deallocated  []string
	CatalogCalls int
	Batches      int
	Aborted      bool

	PrepareErr    error
	DeallocateErr error
}

// NewFakeDest returns a fake with the movie catalog tables in namespace.
func NewFakeDest(namespace string) *FakeDest {
	ts := "timestamp with time zone"
	tables := []*DestTable{
		{
			Name:    "genre",
			Columns: []DestColumn{{"id", "uuid"}, {"name", "text"}, {"description", "text"}, {"created", ts}, {"modified", ts}},
			Unique:  [][]string{{"id"}, {"name"}},
		},
		{
			Name:    "person",
			Columns: []DestColumn{{"id", "uuid"}, {"full_name", "text"}, {"created", ts}, {"modified", ts}},
			Unique:  [][]string{{"id"}, {"full_name"}},
		},
		{
			Name: "film_work",
			Columns: []DestColumn{
				{"id", "uuid"}, {"title", "text"}, {"description", "text"}, {"creation_date", "date"},
				{"file_path", "text"}, {"rating", "double precision"}, {"type", "text"}, {"created", ts}, {"modified", ts},
			},
			Unique: [][]string{{"id"}, {"title", "creation_date"}},
		},
		{
			Name:    "genre_film_work",
			Columns: []DestColumn{{"id", "uuid"}, {"genre_id", "uuid"}, {"film_work_id", "uuid"}, {"created", ts}},
			Unique:  [][]string{{"id"}, {"film_work_id", "genre_id"}},
			Parents: map[string]string{"genre_id": "genre", "film_work_id": "film_work"},
		},
		{
			Name:    "person_film_work",
			Columns: []DestColumn{{"id", "uuid"}, {"person_id", "uuid"}, {"film_work_id", "uuid"}, {"role", "text"}, {"created", ts}},
			Unique:  [][]string{{"id"}, {"film_work_id", "person_id", "role"}},
			Parents: map[string]string{"person_id": "person", "film_work_id": "film_work"},
		},
	}
	d := &FakeDest{Namespace: namespace, Tables: map[string]*DestTable{}, Prepared: map[string]string{}}
	for _, t := range tables {
		d.Tables[t.Name] = t
	}
	return d
}

// Count returns the number of rows stored in table.
func (d *FakeDest) Count(table string) int { return len(d.Tables[table].Rows) }

// Query answers the information_schema column query for d.Namespace.
func (d *FakeDest) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if !strings.Contains(sql, "information_schema.columns") {
		return nil, fmt.Errorf("fakedest: unsupported query %q", sql)
	}
	d.CatalogCalls++
	if len(args) != 1 || args[0] != d.Namespace {
		return NewRows(), nil
	}
	names := make([]string, 0, len(d.Tables))
	for n := range d.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	var data [][]any
	for _, n := range names {
		for _, c := range d.Tables[n].Columns {
			data = append(data, []any{n, c.Name, c.Type, c.Type})
		}
	}
	return NewRows(data...), nil
}

func (d *FakeDest) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	if d.PrepareErr != nil {
		return nil, d.PrepareErr
	}
	if _, ok := d.Prepared[name]; ok {
		return nil, &pgconn.PgError{Code: "42P05", Message: fmt.Sprintf("prepared statement %q already exists", name)}
	}
	d.Prepared[name] = sql
	return &pgconn.StatementDescription{Name: name, SQL: sql}, nil
}

func (d *FakeDest) Deallocate(ctx context.Context, name string) error {
	d.Deallocated = append(d.Deallocated, name)
	delete(d.Prepared, name)
	return d.DeallocateErr
}

// SendBatch executes every queued statement in order. After the first
// failure the transaction is aborted and later statements fail too.
func (d *FakeDest) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	d.Batches++
	res := &fakeBatchResults{}
	for _, qq := range b.QueuedQueries {
		tag, err := d.exec(qq.SQL, qq.Arguments)
		res.results = append(res.results, batchResult{tag: tag, err: err})
	}
	return res
}

func (d *FakeDest) exec(name string, args []any) (pgconn.CommandTag, error) {
	if d.Aborted {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "25P02", Message: "current transaction is aborted"}
	}
	if _, ok := d.Prepared[name]; !ok {
		d.Aborted = true
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "26000", Message: fmt.Sprintf("prepared statement %q does not exist", name)}
	}
	t, ok := d.Tables[strings.TrimPrefix(name, "insert_")]
	if !ok || len(args) != len(t.Columns) {
		d.Aborted = true
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "08P01", Message: "bind message has wrong parameter count"}
	}

	row := make(map[string]any, len(args))
	for i, c := range t.Columns {
		row[c.Name] = args[i]
	}

	for _, key := range t.Unique {
		if d.conflicts(t, key, row) {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
	}
	fks := make([]string, 0, len(t.Parents))
	for col := range t.Parents {
		fks = append(fks, col)
	}
	sort.Strings(fks)
	for _, col := range fks {
		parent := d.Tables[t.Parents[col]]
		if !d.hasID(parent, row[col]) {
			d.Aborted = true
			return pgconn.CommandTag{}, &pgconn.PgError{
				Code:           "23503",
				Message:        fmt.Sprintf("insert or update on table %q violates foreign key constraint", t.Name),
				ConstraintName: t.Name + "_" + col + "_fkey",
				TableName:      t.Name,
				Detail:         fmt.Sprintf("Key (%s)=(%v) is not present in table %q.", col, row[col], parent.Name),
			}
		}
	}
	t.Rows = append(t.Rows, row)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *FakeDest) conflicts(t *DestTable, key []string, row map[string]any) bool {
	for _, c := range key {
		if row[c] == nil {
			return false
		}
	}
	for _, existing := range t.Rows {
		same := true
		for _, c := range key {
			if fmt.Sprint(existing[c]) != fmt.Sprint(row[c]) {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func (d *FakeDest) hasID(t *DestTable, id any) bool {
	for _, r := range t.Rows {
		if fmt.Sprint(r["id"]) == fmt.Sprint(id) {
			return true
		}
	}
	return false
}

type batchResult struct {
	tag pgconn.CommandTag
	err error
}

type fakeBatchResults struct {
	results []batchResult
	pos     int
	closed  bool
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if r.closed {
		return pgconn.CommandTag{}, fmt.Errorf("batch already closed")
	}
	if r.pos >= len(r.results) {
		return pgconn.CommandTag{}, fmt.Errorf("no more results in batch")
	}
	res := r.results[r.pos]
	r.pos++
	return res.tag, res.err
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, fmt.Errorf("fakedest: Query not supported in batch")
}

func (r *fakeBatchResults) QueryRow() pgx.Row {
	return Row{Err: fmt.Errorf("fakedest: QueryRow not supported in batch")}
}

// Close returns the first unread error, as pgx does.
func (r *fakeBatchResults) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for ; r.pos < len(r.results); r.pos++ {
		if err := r.results[r.pos].err; err != nil {
			r.pos = len(r.results)
			return err
		}
	}
	return nil
}
