// Package check verifies that the destination holds exactly what the source
// holds. It runs two passes per table: row counts, then a row-by-row,
// column-by-column comparison of both sides ordered by id.
//
// A table stops at its first mismatch; the remaining tables are still
// checked and every mismatch ends up in the Report. FailFast stops at the
// first mismatching table instead.
package check

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moviesetl/internal/entity"
	"moviesetl/internal/etlerr"
	"moviesetl/internal/metrics"
)

// CountColumn is the column reported for row-count mismatches.
const CountColumn = "count(*)"

// Mismatch is the first disagreement found in one table.
type Mismatch struct {
	Table  string
	Column string
	// RowID is the row's id on the source side; empty for count mismatches.
	RowID  string
	Source string
	Dest   string
}

func (m Mismatch) String() string {
	if m.RowID == "" {
		return fmt.Sprintf("table %s column %s: source=%q destination=%q", m.Table, m.Column, m.Source, m.Dest)
	}
	return fmt.Sprintf("table %s column %s row %s: source=%q destination=%q", m.Table, m.Column, m.RowID, m.Source, m.Dest)
}

// TableReport is the outcome for one table.
type TableReport struct {
	Table       string
	SourceCount int64
	DestCount   int64
	// Compared is the number of row pairs that matched.
	Compared int
	// Digests cover the compared rows in id order.
	SourceDigest uint64
	DestDigest   uint64
	Mismatch     *Mismatch
}

// Report is the outcome of a verification.
type Report struct {
	Tables     []TableReport
	Mismatches []Mismatch
	Duration   time.Duration
}

// OK reports whether every table matched.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Options tune a Checker.
type Options struct {
	// Kinds limits the check; empty means every kind.
	Kinds []entity.Kind
	// FailFast stops at the first mismatching table.
	FailFast bool
	Job      string
	Log      *zap.Logger
}

// Checker compares two stores.
type Checker struct {
	opts Options
	log  *zap.Logger
}

// New returns a Checker.
func New(opts Options) *Checker {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Job == "" {
		opts.Job = "moviesetl"
	}
	return &Checker{opts: opts, log: log}
}

// Verify compares src and dst table by table. Mismatches produce a
// consistency error alongside the full report; store failures produce a
// connection error and a nil report.
func (c *Checker) Verify(ctx context.Context, src, dst Store) (rep *Report, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(c.opts.Job, "verify", err, time.Since(start)) }()

	kinds := c.opts.Kinds
	if len(kinds) == 0 {
		kinds = entity.Kinds()
	}
	descs := make([]entity.Descriptor, len(kinds))
	for i, k := range kinds {
		d, err := entity.Describe(k)
		if err != nil {
			return nil, err
		}
		descs[i] = d
	}

	srcCounts, dstCounts, err := c.counts(ctx, src, dst, descs)
	if err != nil {
		return nil, err
	}

	rep = &Report{}
	for i, d := range descs {
		tr, err := c.checkTable(ctx, src, dst, d, srcCounts[i], dstCounts[i])
		if err != nil {
			return nil, err
		}
		rep.Tables = append(rep.Tables, tr)
		if tr.Mismatch != nil {
			rep.Mismatches = append(rep.Mismatches, *tr.Mismatch)
			if c.opts.FailFast {
				break
			}
		}
	}
	rep.Duration = time.Since(start)

	if !rep.OK() {
		return rep, etlerr.Consistency(nil, "%d of %d tables differ, first: %s",
			len(rep.Mismatches), len(descs), rep.Mismatches[0])
	}
	c.log.Info("stores consistent",
		zap.Int("tables", len(rep.Tables)),
		zap.Duration("elapsed", rep.Duration.Truncate(time.Millisecond)),
	)
	return rep, nil
}

// counts runs the count pass for both stores concurrently.
func (c *Checker) counts(ctx context.Context, src, dst Store, descs []entity.Descriptor) (srcCounts, dstCounts []int64, err error) {
	srcCounts = make([]int64, len(descs))
	dstCounts = make([]int64, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []struct {
		store Store
		out   []int64
	}{{src, srcCounts}, {dst, dstCounts}} {
		side := side
		g.Go(func() error {
			for i, d := range descs {
				n, err := side.store.Count(gctx, d.Table)
				if err != nil {
					return err
				}
				side.out[i] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, etlerr.Connection(err, "count rows")
	}
	return srcCounts, dstCounts, nil
}

func (c *Checker) checkTable(ctx context.Context, src, dst Store, d entity.Descriptor, srcN, dstN int64) (tr TableReport, err error) {
	tr = TableReport{Table: d.Table, SourceCount: srcN, DestCount: dstN}
	log := c.log.With(zap.String("entity", d.Kind.String()), zap.String("table", d.Table))

	start := time.Now()
	defer func() {
		step := err
		if step == nil && tr.Mismatch != nil {
			step = errors.New("mismatch")
		}
		metrics.RecordStep(c.opts.Job, "check:"+d.Table, step, time.Since(start))
		metrics.RecordRow(c.opts.Job, d.Table, metrics.RowsCompared, int64(tr.Compared))
		if tr.Mismatch != nil {
			metrics.RecordRow(c.opts.Job, d.Table, metrics.RowsMismatched, 1)
		}
	}()

	if srcN != dstN {
		tr.Mismatch = &Mismatch{
			Table:  d.Table,
			Column: CountColumn,
			Source: strconv.FormatInt(srcN, 10),
			Dest:   strconv.FormatInt(dstN, 10),
		}
		log.Warn("row counts differ", zap.Int64("source", srcN), zap.Int64("destination", dstN))
		return tr, nil
	}

	m, err := c.compareRows(ctx, src, dst, d, &tr)
	if err != nil {
		return tr, etlerr.Connection(err, "compare %s", d.Table)
	}
	tr.Mismatch = m
	if m != nil {
		log.Warn("row mismatch", zap.String("column", m.Column), zap.String("id", m.RowID),
			zap.String("source", m.Source), zap.String("destination", m.Dest))
		return tr, nil
	}
	log.Debug("table consistent", zap.Int64("rows", srcN), zap.Uint64("digest", tr.SourceDigest))
	return tr, nil
}

// compareRows walks both sides in id order and returns the first mismatch.
func (c *Checker) compareRows(ctx context.Context, src, dst Store, d entity.Descriptor, tr *TableReport) (*Mismatch, error) {
	sr, err := src.Rows(ctx, d.Table, d.Columns)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	dr, err := dst.Rows(ctx, d.Table, d.Columns)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	sd, dd := newDigest(), newDigest()
	defer func() {
		tr.SourceDigest, tr.DestDigest = sd.sum(), dd.sum()
	}()

	for {
		sOK, dOK := sr.Next(), dr.Next()
		if !sOK || !dOK {
			if err := errors.Join(sr.Err(), dr.Err()); err != nil {
				return nil, err
			}
			if sOK != dOK {
				// Counts matched but a side ran short: rows changed mid-check.
				return &Mismatch{Table: d.Table, Column: "id", Source: presence(sOK), Dest: presence(dOK)}, nil
			}
			return nil, nil
		}

		sRow, sID, err := readRow(sr, d)
		if err != nil {
			return undecodable(d, "", true, err)
		}
		dRow, _, err := readRow(dr, d)
		if err != nil {
			return undecodable(d, sID, false, err)
		}

		for i, col := range d.Columns {
			if sRow[i] != dRow[i] {
				return &Mismatch{Table: d.Table, Column: col, RowID: sID, Source: sRow[i], Dest: dRow[i]}, nil
			}
		}
		sd.add(sRow)
		dd.add(dRow)
		tr.Compared++
	}
}

type decodeError struct {
	column string
	err    error
}

func (e *decodeError) Error() string { return e.err.Error() }

// readRow decodes and canonicalizes the current row. Decode failures are
// *decodeError; anything else is a store failure.
func readRow(it RowIter, d entity.Descriptor) (row []string, id string, err error) {
	vals, err := it.Values()
	if err != nil {
		return nil, "", err
	}
	rec, err := decodeRow(d, vals)
	if err != nil {
		de := &decodeError{column: "id", err: err}
		var fe *entity.FieldError
		if errors.As(err, &fe) {
			de.column = fe.Column
		}
		return nil, "", de
	}
	return canonicalRow(d, rec), rec.RecordID().String(), nil
}

// undecodable turns a row that does not decode into a mismatch on the
// offending column. Store failures pass through.
func undecodable(d entity.Descriptor, id string, onSource bool, err error) (*Mismatch, error) {
	var de *decodeError
	if !errors.As(err, &de) {
		return nil, err
	}
	m := &Mismatch{Table: d.Table, Column: de.column, RowID: id}
	msg := "undecodable: " + de.err.Error()
	if onSource {
		m.Source = msg
	} else {
		m.Dest = msg
	}
	return m, nil
}

func presence(ok bool) string {
	if ok {
		return "row"
	}
	return "end of rows"
}
