// Package migrate drives one migration run: every entity kind, in
// dependency order, is streamed from the extractor into the loader. The run
// is sequential; the caller owns the destination transaction and commits it
// only after Run returns nil.
package migrate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moviesetl/internal/entity"
	"moviesetl/internal/extract"
	"moviesetl/internal/load"
	"moviesetl/internal/metrics"
)

// Options tune a run.
type Options struct {
	// Kinds restricts the run to a subset. They are always processed in
	// load order regardless of how they are listed. Empty means all.
	Kinds []entity.Kind
	// BatchSize bounds the records held in memory. Zero means
	// extract.DefaultBatchSize.
	BatchSize int
	// Job labels metrics.
	Job string
}

// KindSummary is the outcome for one kind.
type KindSummary struct {
	Kind      entity.Kind
	Table     string
	Extracted int
	Inserted  int
	Skipped   int
	Batches   int
	Duration  time.Duration
}

// Summary is the outcome of a run, in processing order.
type Summary struct {
	Kinds    []KindSummary
	Duration time.Duration
}

// Totals sums all kinds.
func (s Summary) Totals() KindSummary {
	var t KindSummary
	for _, k := range s.Kinds {
		t.Extracted += k.Extracted
		t.Inserted += k.Inserted
		t.Skipped += k.Skipped
		t.Batches += k.Batches
	}
	t.Duration = s.Duration
	return t
}

// Plan returns the kinds to process in load order. Unknown and duplicate
// kinds are rejected.
func Plan(kinds []entity.Kind) ([]entity.Kind, error) {
	if len(kinds) == 0 {
		return entity.Kinds(), nil
	}
	want := make(map[entity.Kind]bool, len(kinds))
	for _, k := range kinds {
		if _, err := entity.Describe(k); err != nil {
			return nil, err
		}
		if want[k] {
			return nil, fmt.Errorf("migrate: %s listed twice", k)
		}
		want[k] = true
	}
	out := make([]entity.Kind, 0, len(kinds))
	for _, k := range entity.Kinds() {
		if want[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Run migrates every planned kind. The first error stops the run; the
// partial summary is returned with it.
func Run(ctx context.Context, x *extract.Extractor, l *load.Loader, opts Options, log *zap.Logger) (Summary, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = extract.DefaultBatchSize
	}
	if opts.Job == "" {
		opts.Job = "moviesetl"
	}

	kinds, err := Plan(opts.Kinds)
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	var sum Summary
	for _, k := range kinds {
		ks, err := migrateKind(ctx, x, l, k, opts, log)
		sum.Kinds = append(sum.Kinds, ks)
		if err != nil {
			sum.Duration = time.Since(start)
			metrics.RecordStep(opts.Job, "migrate", err, sum.Duration)
			return sum, err
		}
	}
	sum.Duration = time.Since(start)
	metrics.RecordStep(opts.Job, "migrate", nil, sum.Duration)

	t := sum.Totals()
	log.Info("migration finished",
		zap.Int("kinds", len(sum.Kinds)),
		zap.Int("extracted", t.Extracted),
		zap.Int("inserted", t.Inserted),
		zap.Int("skipped", t.Skipped),
		zap.Duration("elapsed", sum.Duration.Truncate(time.Millisecond)),
	)
	return sum, nil
}

func migrateKind(ctx context.Context, x *extract.Extractor, l *load.Loader, kind entity.Kind, opts Options, log *zap.Logger) (ks KindSummary, err error) {
	table := kind.Table()
	ks = KindSummary{Kind: kind, Table: table}
	log = log.With(zap.String("entity", kind.String()), zap.String("table", table))

	start := time.Now()
	defer func() {
		ks.Duration = time.Since(start)
		metrics.RecordStep(opts.Job, "load:"+table, err, ks.Duration)
		metrics.RecordRow(opts.Job, table, metrics.RowsExtracted, int64(ks.Extracted))
		metrics.RecordRow(opts.Job, table, metrics.RowsInserted, int64(ks.Inserted))
		metrics.RecordRow(opts.Job, table, metrics.RowsSkipped, int64(ks.Skipped))
		metrics.RecordBatches(opts.Job, table, int64(ks.Batches))
	}()

	err = l.WithStatement(ctx, kind, func(st *load.Statement) error {
		batches, err := x.Extract(ctx, kind, opts.BatchSize)
		if err != nil {
			return err
		}
		defer batches.Close()

		lastFlush := start
		for batches.Next() {
			batch := batches.Batch()
			res, err := st.Save(ctx, batch)
			ks.Extracted += len(batch)
			ks.Inserted += res.Inserted
			ks.Skipped += res.Skipped
			if err != nil {
				log.Error("batch failed",
					zap.Int("batch", ks.Batches+1),
					zap.Int("rows", len(batch)),
					zap.Int("total_inserted", ks.Inserted),
					zap.Error(err),
				)
				return err
			}
			ks.Batches++

			now := time.Now()
			sinceLast := now.Sub(lastFlush)
			rps := float64(0)
			if sinceLast > 0 {
				rps = float64(len(batch)) / sinceLast.Seconds()
			}
			log.Info("batch saved",
				zap.Int("batch", ks.Batches),
				zap.Float64("rps", rps),
				zap.Int("rows", len(batch)),
				zap.Int("inserted", res.Inserted),
				zap.Int("skipped", res.Skipped),
				zap.Int("total_inserted", ks.Inserted),
				zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
				zap.Duration("since_last", sinceLast.Truncate(time.Millisecond)),
			)
			lastFlush = now
		}
		return batches.Err()
	})
	if err != nil {
		return ks, err
	}

	log.Info("entity loaded",
		zap.Int("extracted", ks.Extracted),
		zap.Int("inserted", ks.Inserted),
		zap.Int("skipped", ks.Skipped),
		zap.Int("batches", ks.Batches),
	)
	return ks, nil
}
