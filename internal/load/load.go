// Package load writes record batches into the destination. One named
// prepared statement per kind is built from introspected column metadata;
// every batch is queued into a pgx.Batch and sent in a single round trip.
//
// Conflicts on the primary key or any declared unique key are skipped by
// the database (ON CONFLICT DO NOTHING) and counted, which is what makes a
// repeated run a no-op.
package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"moviesetl/internal/entity"
	"moviesetl/internal/etlerr"
	"moviesetl/internal/schema"
	"moviesetl/internal/storage/postgres"
)

// Executor is the destination surface the loader needs. *postgres.Tx
// satisfies it.
type Executor interface {
	schema.Querier
	Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Deallocate(ctx context.Context, name string) error
}

// Resolver supplies destination metadata. *schema.Introspector satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, q schema.Querier, namespace string) (*schema.Schema, error)
}

// Audit columns are filled by the loader, not read from the source.
var timestampColumns = map[string]bool{"created": true, "modified": true}

// Loader prepares and runs inserts inside one destination transaction.
type Loader struct {
	exec      Executor
	namespace string
	resolver  Resolver
	now       time.Time
	log       *zap.Logger

	active *Statement
}

// Option configures a Loader.
type Option func(*Loader)

// WithResolver replaces schema.Default.
func WithResolver(r Resolver) Option { return func(l *Loader) { l.resolver = r } }

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// WithTimestamp fixes the value bound to created/modified columns.
func WithTimestamp(t time.Time) Option { return func(l *Loader) { l.now = t } }

// New returns a Loader writing into namespace through exec. The audit
// timestamp defaults to the construction time, which matches NOW() for
// every row of a single-transaction run.
func New(exec Executor, namespace string, opts ...Option) *Loader {
	l := &Loader{
		exec:      exec,
		namespace: namespace,
		resolver:  schema.Default,
		now:       time.Now().UTC(),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Namespace returns the destination schema name.
func (l *Loader) Namespace() string { return l.namespace }

// Result counts the outcome of one or more saved batches.
type Result struct {
	Inserted int
	Skipped  int
}

// Add accumulates r2 into r.
func (r *Result) Add(r2 Result) {
	r.Inserted += r2.Inserted
	r.Skipped += r2.Skipped
}

// Statement is a prepared insert for one kind. It must be released with
// Deallocate exactly once; WithStatement does that automatically.
type Statement struct {
	loader   *Loader
	kind     entity.Kind
	table    schema.Table
	name     string
	sql      string
	total    Result
	released bool
}

// StatementName is the prepared statement name for a table.
func StatementName(table string) string { return "insert_" + table }

// InsertSQL builds the parameterized insert for t. Every placeholder carries
// an explicit cast to the introspected column type.
//
//	INSERT INTO "content"."genre" ("id", "name") VALUES ($1::uuid, $2::text) ON CONFLICT DO NOTHING
func InsertSQL(namespace string, t schema.Table) string {
	params := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		params[i] = fmt.Sprintf("$%d::%s", i+1, c.Type)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		postgres.FQN(namespace, t.Name),
		strings.Join(postgres.Idents(t.ColumnNames()), ", "),
		strings.Join(params, ", "),
	)
}

// Prepare resolves the destination table for kind and prepares its insert.
// Only one statement may be active per loader.
func (l *Loader) Prepare(ctx context.Context, kind entity.Kind) (*Statement, error) {
	if l.active != nil {
		return nil, etlerr.Load(kind.String(), nil, "statement %s is still active", l.active.name)
	}
	table := entity.SnakeCase(kind.String())

	s, err := l.resolver.Resolve(ctx, l.exec, l.namespace)
	if err != nil {
		return nil, etlerr.Load(kind.String(), err, "resolve schema %s", l.namespace)
	}
	t, ok := s.Table(table)
	if !ok {
		return nil, etlerr.Load(kind.String(), nil, "table %s.%s not found", l.namespace, table)
	}

	st := &Statement{
		loader: l,
		kind:   kind,
		table:  t,
		name:   StatementName(table),
		sql:    InsertSQL(l.namespace, t),
	}
	if _, err := l.exec.Prepare(ctx, st.name, st.sql); err != nil {
		return nil, loadError(kind, err, "prepare %s", st.name)
	}
	l.active = st

	l.log.Debug("statement prepared",
		zap.String("entity", kind.String()),
		zap.String("table", table),
		zap.String("statement", st.name),
		zap.Int("columns", len(t.Columns)),
	)
	return st, nil
}

// WithStatement prepares the statement for kind, runs fn, and deallocates
// on every exit path. A deallocate failure is reported only if fn succeeded.
func (l *Loader) WithStatement(ctx context.Context, kind entity.Kind, fn func(*Statement) error) (err error) {
	st, err := l.Prepare(ctx, kind)
	if err != nil {
		return err
	}
	defer func() {
		if derr := st.Deallocate(context.WithoutCancel(ctx)); derr != nil && err == nil {
			err = derr
		}
	}()
	return fn(st)
}

// Name returns the prepared statement name.
func (s *Statement) Name() string { return s.name }

// SQL returns the prepared statement text.
func (s *Statement) SQL() string { return s.sql }

// Total returns the accumulated result of all Save calls.
func (s *Statement) Total() Result { return s.total }

// Save binds every record of batch and executes them as one pipelined
// batch. Rows that hit a unique conflict report zero rows affected and are
// counted as skipped.
func (s *Statement) Save(ctx context.Context, batch []entity.Record) (Result, error) {
	var res Result
	if s.released {
		return res, etlerr.Load(s.kind.String(), nil, "statement %s already deallocated", s.name)
	}
	if len(batch) == 0 {
		return res, nil
	}

	b := &pgx.Batch{}
	for _, rec := range batch {
		args, err := s.bind(rec)
		if err != nil {
			return res, err
		}
		b.Queue(s.name, args...)
	}

	br := s.loader.exec.SendBatch(ctx, b)
	for _, rec := range batch {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return res, loadError(s.kind, err, "insert %s id=%s", s.table.Name, rec.RecordID())
		}
		if tag.RowsAffected() == 0 {
			res.Skipped++
		} else {
			res.Inserted++
		}
	}
	if err := br.Close(); err != nil {
		return res, loadError(s.kind, err, "close batch for %s", s.table.Name)
	}
	s.total.Add(res)
	return res, nil
}

func (s *Statement) bind(rec entity.Record) ([]any, error) {
	if rec.Kind() != s.kind {
		return nil, etlerr.Load(s.kind.String(), nil, "cannot save %s record with %s statement", rec.Kind(), s.name)
	}
	args := make([]any, len(s.table.Columns))
	for i, c := range s.table.Columns {
		if v, ok := rec.Field(c.Name); ok {
			args[i] = v
			continue
		}
		if timestampColumns[c.Name] {
			args[i] = s.loader.now
			continue
		}
		return nil, etlerr.Load(s.kind.String(), nil, "no value for column %s.%s", s.table.Name, c.Name)
	}
	return args, nil
}

// Deallocate releases the prepared statement. Calls after the first are
// no-ops.
func (s *Statement) Deallocate(ctx context.Context) error {
	if s.released {
		return nil
	}
	s.released = true
	if s.loader.active == s {
		s.loader.active = nil
	}
	if err := s.loader.exec.Deallocate(ctx, s.name); err != nil {
		return loadError(s.kind, err, "deallocate %s", s.name)
	}
	return nil
}

func loadError(kind entity.Kind, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if detail, ok := postgres.PgErrorDetail(err); ok {
		msg += " (" + detail + ")"
	}
	return etlerr.Load(kind.String(), err, "%s", msg)
}
