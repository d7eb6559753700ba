// Command moviesetl copies the movie catalog from a SQLite database into a
// PostgreSQL schema and verifies that both hold the same data.
//
// main() stays tiny; every side effect that needs a database (destination
// transaction, checker connection, migration and verification entrypoints)
// is injected through Deps so the wiring is tested without one.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"moviesetl/internal/check"
	"moviesetl/internal/config"
	"moviesetl/internal/etlerr"
	"moviesetl/internal/extract"
	"moviesetl/internal/load"
	"moviesetl/internal/logging"
	"moviesetl/internal/metrics"
	"moviesetl/internal/metrics/datadog"
	"moviesetl/internal/metrics/prompush"
	"moviesetl/internal/migrate"
	"moviesetl/internal/storage/postgres"
	"moviesetl/internal/storage/sqlite"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitConfig      = 1
	exitConnection  = 2
	exitExtraction  = 3
	exitLoad        = 4
	exitConsistency = 5
)

// DestConn is the checker's view of a destination connection.
type DestConn interface {
	check.PgQuerier
	Close(ctx context.Context) error
}

// Deps holds injectable dependencies so the commands are testable.
type Deps struct {
	// WithDest runs fn inside one destination transaction, committing when
	// fn succeeds and rolling back otherwise.
	WithDest func(ctx context.Context, p postgres.Params, fn func(ctx context.Context, tx load.Executor) error) error
	// ConnectDest opens the connection the checker reads through.
	ConnectDest func(ctx context.Context, p postgres.Params) (DestConn, error)

	Migrate func(ctx context.Context, x *extract.Extractor, l *load.Loader, opts migrate.Options, log *zap.Logger) (migrate.Summary, error)
	Verify  func(ctx context.Context, opts check.Options, src, dst check.Store) (*check.Report, error)

	NewLogger  func(cfg logging.Config) (*zap.Logger, error)
	NewMetrics func(cfg *config.Config) (metrics.Backend, error)
	Now        func() time.Time
}

// defaultDeps wires production implementations.
func defaultDeps() Deps {
	return Deps{
		WithDest: func(ctx context.Context, p postgres.Params, fn func(ctx context.Context, tx load.Executor) error) error {
			return postgres.WithTx(ctx, p, pgx.TxOptions{}, func(ctx context.Context, tx *postgres.Tx) error {
				return fn(ctx, tx)
			})
		},
		ConnectDest: func(ctx context.Context, p postgres.Params) (DestConn, error) {
			db, err := postgres.Connect(ctx, p)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		Migrate: migrate.Run,
		Verify: func(ctx context.Context, opts check.Options, src, dst check.Store) (*check.Report, error) {
			return check.New(opts).Verify(ctx, src, dst)
		},
		NewLogger:  logging.New,
		NewMetrics: newMetricsBackend,
		Now:        time.Now,
	}
}

// newMetricsBackend returns the configured backend, or nil for "none".
func newMetricsBackend(cfg *config.Config) (metrics.Backend, error) {
	switch cfg.MetricsBackend {
	case "", "none":
		return nil, nil
	case "pushgateway":
		return prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
	case "datadog":
		return datadog.NewBackend(datadog.Config{
			Addr:       cfg.DogStatsdAddr,
			GlobalTags: []string{"job:" + cfg.Job},
		})
	}
	return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
}

// configError marks failures that happen before any store is touched.
type configError struct{ err error }

func (e *configError) Error() string { return "config: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch c, _ := etlerr.CategoryOf(err); c {
	case etlerr.CategoryConnection:
		return exitConnection
	case etlerr.CategoryExtraction:
		return exitExtraction
	case etlerr.CategoryLoad:
		return exitLoad
	case etlerr.CategoryConsistency:
		return exitConsistency
	}
	return exitConfig
}

// app is the per-invocation state shared by the subcommands.
type app struct {
	deps Deps
	out  io.Writer
	cfg  *config.Config
	log  *zap.Logger
}

// setup resolves configuration, logging and metrics. The returned func
// flushes metrics and must run once the command is done.
func (a *app) setup(cmd *cobra.Command) (func(), error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, &configError{err}
	}
	issues := config.Validate(cfg)
	if err := config.Err(issues); err != nil {
		return nil, &configError{err}
	}
	log, err := a.deps.NewLogger(cfg.Logging())
	if err != nil {
		return nil, &configError{err}
	}
	for _, iss := range issues {
		log.Warn("config warning", zap.String("path", iss.Path), zap.String("message", iss.Message))
	}

	backend, err := a.deps.NewMetrics(cfg)
	if err != nil {
		return nil, &configError{err}
	}
	metrics.SetBackend(backend)

	a.cfg, a.log = cfg, log
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", zap.Error(err))
		}
		if c, ok := backend.(io.Closer); ok {
			_ = c.Close()
		}
		metrics.Reset()
		_ = log.Sync()
	}, nil
}

func (a *app) loadCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Copy every entity from SQLite into PostgreSQL in one transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			done, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer done()
			return a.runLoad(cmd.Context(), verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "run the consistency check after a successful load")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the SQLite source with the PostgreSQL destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			done, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer done()
			return sqlite.WithSource(cmd.Context(), a.cfg.SQLiteDB, true, func(src *sqlite.Source) error {
				return a.verify(cmd.Context(), src)
			})
		},
	}
}

func (a *app) runLoad(ctx context.Context, verify bool) error {
	p := a.cfg.Postgres()
	a.log.Info("starting load",
		zap.String("source", a.cfg.SQLiteDB),
		zap.String("destination", p.Redacted()),
		zap.String("schema", a.cfg.DBSchema),
		zap.Int("batch_size", a.cfg.BatchSize),
	)
	loadedAt := a.deps.Now()

	return sqlite.WithSource(ctx, a.cfg.SQLiteDB, true, func(src *sqlite.Source) error {
		var sum migrate.Summary
		err := a.deps.WithDest(ctx, p, func(ctx context.Context, tx load.Executor) error {
			l := load.New(tx, a.cfg.DBSchema, load.WithLogger(a.log), load.WithTimestamp(loadedAt))
			var err error
			sum, err = a.deps.Migrate(ctx, extract.New(src, a.log), l,
				migrate.Options{BatchSize: a.cfg.BatchSize, Job: a.cfg.Job}, a.log)
			return err
		})
		if err != nil {
			return err
		}
		a.printSummary(sum)
		if !verify {
			return nil
		}
		return a.verify(ctx, src)
	})
}

// verify checks src against the destination over a fresh connection.
func (a *app) verify(ctx context.Context, src *sqlite.Source) error {
	conn, err := a.deps.ConnectDest(ctx, a.cfg.Postgres())
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			a.log.Warn("closing checker connection", zap.Error(err))
		}
	}()

	opts := check.Options{FailFast: a.cfg.FailFast, Job: a.cfg.Job, Log: a.log}
	rep, err := a.deps.Verify(ctx, opts,
		check.NewSQLStore("source", src),
		check.NewPgStore("destination", conn, a.cfg.DBSchema))
	if rep != nil {
		a.printReport(rep)
	}
	return err
}

func (a *app) printSummary(sum migrate.Summary) {
	for _, k := range sum.Kinds {
		fmt.Fprintf(a.out, "%-18s extracted=%d inserted=%d skipped=%d batches=%d\n",
			k.Table, k.Extracted, k.Inserted, k.Skipped, k.Batches)
	}
	t := sum.Totals()
	fmt.Fprintf(a.out, "%-18s extracted=%d inserted=%d skipped=%d in %s\n",
		"total", t.Extracted, t.Inserted, t.Skipped, t.Duration.Truncate(time.Millisecond))
}

func (a *app) printReport(rep *check.Report) {
	for _, tr := range rep.Tables {
		status := "ok"
		if tr.Mismatch != nil {
			status = "MISMATCH " + tr.Mismatch.String()
		}
		fmt.Fprintf(a.out, "%-18s source=%d destination=%d digest=%016x %s\n",
			tr.Table, tr.SourceCount, tr.DestCount, tr.SourceDigest, status)
	}
}

func newRootCmd(deps Deps, out io.Writer) *cobra.Command {
	a := &app{deps: deps, out: out}
	root := &cobra.Command{
		Use:           "moviesetl",
		Short:         "Movie catalog SQLite to PostgreSQL migration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(a.loadCmd(), a.checkCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "moviesetl %s\n", version)
		},
	})
	return root
}

// execute runs the CLI and returns the exit status.
func execute(ctx context.Context, args []string, deps Deps, stdout, stderr io.Writer) int {
	root := newRootCmd(deps, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "moviesetl:", err)
		var ce *configError
		if !errors.As(err, &ce) {
			if _, ok := etlerr.CategoryOf(err); !ok {
				fmt.Fprintln(stderr, "run 'moviesetl --help' for usage")
			}
		}
	}
	return exitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], defaultDeps(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
