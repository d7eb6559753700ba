// Package postgres is the destination connector. It holds a single pgx
// connection and scopes all writes of a run to one transaction.
//
// pgx types pass through unchanged, so the loader and the checker use
// prepared statements and batches directly. The connection sits behind a
// small seam (connLike) for tests.
package postgres

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"moviesetl/internal/etlerr"
)

// Params are the connection settings for the destination database.
type Params struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN renders p as a postgres:// URL with escaped credentials.
func (p Params) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Name,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

// Redacted is DSN with the password masked, for logs.
func (p Params) Redacted() string {
	if p.Password != "" {
		p.Password = "xxxxx"
	}
	return p.DSN()
}

// connLike is the subset of *pgx.Conn the connector uses.
type connLike interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// connect is swapped in tests.
var connect = func(ctx context.Context, dsn string) (connLike, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DB is one open destination connection.
type DB struct {
	conn connLike
}

// Connect opens a connection and verifies it with a ping. Authentication and
// network failures are connection errors.
func Connect(ctx context.Context, p Params) (*DB, error) {
	c, err := connect(ctx, p.DSN())
	if err != nil {
		return nil, etlerr.Connection(err, "postgres: connect %s", p.Redacted())
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, etlerr.Connection(err, "postgres: ping %s", p.Redacted())
	}
	return &DB{conn: c}, nil
}

// Close closes the connection. It uses a context detached from cancellation
// so a cancelled run still terminates its session cleanly.
func (d *DB) Close(ctx context.Context) error {
	return d.conn.Close(context.WithoutCancel(ctx))
}

// Query runs a read query outside any transaction.
func (d *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return d.conn.Query(ctx, sql, args...)
}

// QueryRow runs a single-row read query outside any transaction.
func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return d.conn.QueryRow(ctx, sql, args...)
}

// InTx runs fn inside one transaction. A nil return commits; an error or a
// panic rolls back. The panic is re-raised after the rollback.
func (d *DB) InTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx *Tx) error) (err error) {
	raw, err := d.conn.BeginTx(ctx, opts)
	if err != nil {
		return etlerr.Connection(err, "postgres: begin transaction")
	}
	tx := &Tx{tx: raw}

	defer func() {
		if p := recover(); p != nil {
			_ = raw.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		_ = raw.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := raw.Commit(ctx); err != nil {
		return etlerr.Connection(err, "postgres: commit")
	}
	return nil
}

// WithTx connects, runs fn in one transaction and closes the connection on
// every exit path.
func WithTx(ctx context.Context, p Params, opts pgx.TxOptions, fn func(ctx context.Context, tx *Tx) error) (err error) {
	db, err := Connect(ctx, p)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(ctx); cerr != nil && err == nil {
			err = etlerr.Connection(cerr, "postgres: close")
		}
	}()
	return db.InTx(ctx, opts, fn)
}

// Tx is the active destination transaction.
type Tx struct {
	tx pgx.Tx
}

// Raw exposes the underlying pgx transaction.
func (t *Tx) Raw() pgx.Tx { return t.tx }

// Prepare creates a named prepared statement on the transaction's connection.
func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return t.tx.Prepare(ctx, name, sql)
}

// SendBatch sends all queued queries in one round trip.
func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.tx.SendBatch(ctx, b)
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

// Query runs a read query inside the transaction.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

// QueryRow runs a single-row read query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

// Deallocate releases the named prepared statement. Going through the
// connection keeps pgx's own statement map in sync; the raw DEALLOCATE is
// only used when no *pgx.Conn is available.
func (t *Tx) Deallocate(ctx context.Context, name string) error {
	if c := t.tx.Conn(); c != nil {
		return c.Deallocate(ctx, name)
	}
	_, err := t.tx.Exec(ctx, "DEALLOCATE "+pgx.Identifier{name}.Sanitize())
	return err
}

// PgErrorDetail formats the server-side fields of a *pgconn.PgError found in
// err's chain. ok is false when err did not come from the server.
func PgErrorDetail(err error) (detail string, ok bool) {
	pgErr, ok := asPgError(err)
	if !ok {
		return "", false
	}
	detail = "SQLSTATE " + pgErr.Code
	if pgErr.ConstraintName != "" {
		detail += " constraint=" + pgErr.ConstraintName
	}
	if pgErr.TableName != "" {
		detail += " table=" + pgErr.TableName
	}
	if pgErr.Detail != "" {
		detail += ": " + pgErr.Detail
	}
	return detail, true
}
