// Package extract reads typed records from the source store in bounded
// batches. Each Extract call issues one fixed SELECT and walks its cursor
// forward only; nothing is buffered beyond the current batch.
package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"moviesetl/internal/entity"
	"moviesetl/internal/etlerr"
)

// DefaultBatchSize is the number of records per batch when none is given.
const DefaultBatchSize = 100

// Querier is satisfied by *sql.DB and the sqlite source connector.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Extractor produces record batches from one source.
type Extractor struct {
	q   Querier
	log *zap.Logger
}

// New returns an Extractor reading through q.
func New(q Querier, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{q: q, log: log}
}

// RowError locates a malformed source row. Row is 1-based in result order.
type RowError struct {
	Row    int
	Column string
	Err    error
}

// Error reads "row 3: column name: missing required field"; the column
// comes from the wrapped decode error.
func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// Extract runs the kind's source query and returns a cursor over its
// batches. The caller must Close the cursor.
func (x *Extractor) Extract(ctx context.Context, kind entity.Kind, batchSize int) (*Batches, error) {
	if batchSize <= 0 {
		return nil, etlerr.Extraction(kind.String(), nil, "batch size must be positive, got %d", batchSize)
	}
	desc, err := entity.Describe(kind)
	if err != nil {
		return nil, etlerr.Extraction(kind.String(), err, "describe")
	}

	rows, err := x.q.QueryContext(ctx, desc.SourceQuery())
	if err != nil {
		return nil, etlerr.Extraction(kind.String(), err, "query %s", desc.Table)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, etlerr.Extraction(kind.String(), err, "columns of %s", desc.Table)
	}

	x.log.Debug("extract started",
		zap.String("entity", kind.String()),
		zap.String("table", desc.Table),
		zap.Int("batch_size", batchSize),
	)
	return &Batches{
		desc: desc,
		rows: rows,
		cols: cols,
		size: batchSize,
		log:  x.log,
	}, nil
}

// Batches is a forward-only cursor over record batches.
//
//	for b.Next() {
//		use(b.Batch())
//	}
//	if err := b.Err(); err != nil { ... }
type Batches struct {
	desc entity.Descriptor
	rows *sql.Rows
	cols []string
	size int
	log  *zap.Logger

	batch  []entity.Record
	read   int
	served int
	err    error
	closed bool
}

// Next advances to the next non-empty batch. It returns false when the
// source is exhausted or a row failed to decode; check Err afterwards.
func (b *Batches) Next() bool {
	b.batch = nil
	if b.closed || b.err != nil {
		return false
	}

	batch := make([]entity.Record, 0, b.size)
	for len(batch) < b.size && b.rows.Next() {
		b.read++
		rec, err := b.decode()
		if err != nil {
			b.err = err
			_ = b.Close()
			return false
		}
		batch = append(batch, rec)
	}

	if len(batch) < b.size {
		if err := b.rows.Err(); err != nil {
			b.err = etlerr.Extraction(b.desc.Kind.String(), err, "read %s after row %d", b.desc.Table, b.read)
			_ = b.Close()
			return false
		}
		_ = b.Close()
	}
	if len(batch) == 0 {
		return false
	}

	b.served++
	b.batch = batch
	return true
}

// Batch returns the current batch. The slice is not reused by later calls.
func (b *Batches) Batch() []entity.Record { return b.batch }

// Rows reports how many source rows have been read so far.
func (b *Batches) Rows() int { return b.read }

// Err returns the error that stopped iteration, if any.
func (b *Batches) Err() error { return b.err }

// Close releases the source cursor. It is safe to call more than once.
func (b *Batches) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.rows.Close()
	b.log.Debug("extract finished",
		zap.String("entity", b.desc.Kind.String()),
		zap.String("table", b.desc.Table),
		zap.Int("rows", b.read),
		zap.Int("batches", b.served),
	)
	return err
}

func (b *Batches) decode() (entity.Record, error) {
	vals := make([]any, len(b.cols))
	ptrs := make([]any, len(b.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	kind := b.desc.Kind.String()
	if err := b.rows.Scan(ptrs...); err != nil {
		return nil, etlerr.Extraction(kind, &RowError{Row: b.read, Err: err}, "scan %s", b.desc.Table)
	}

	row := make(map[string]any, len(b.cols))
	for i, c := range b.cols {
		row[c] = b.desc.Normalize(c, vals[i])
	}

	rec, err := b.desc.Decode(row)
	if err != nil {
		re := &RowError{Row: b.read, Err: err}
		var fe *entity.FieldError
		if errors.As(err, &fe) {
			re.Column = fe.Column
		}
		return nil, etlerr.Extraction(kind, re, "malformed %s row", b.desc.Table)
	}
	return rec, nil
}
