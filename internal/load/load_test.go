package load

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviesetl/internal/entity"
	"moviesetl/internal/etlerr"
	"moviesetl/internal/schema"
	"moviesetl/internal/storage/postgres"
	"moviesetl/internal/testutil"
)

var loadTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newLoader(d *testutil.FakeDest) *Loader {
	return New(d, d.Namespace, WithResolver(schema.New()), WithTimestamp(loadTime))
}

func save(t *testing.T, l *Loader, kind entity.Kind, recs ...entity.Record) Result {
	t.Helper()
	var res Result
	err := l.WithStatement(context.Background(), kind, func(st *Statement) error {
		r, err := st.Save(context.Background(), recs)
		res = r
		return err
	})
	require.NoError(t, err)
	return res
}

func ptr[T any](v T) *T { return &v }

func TestInsertSQL(t *testing.T) {
	t.Parallel()

	table := schema.Table{Name: "genre", Columns: []schema.Column{
		{Name: "id", Type: "uuid"},
		{Name: "name", Type: "text"},
		{Name: "created", Type: "timestamp with time zone"},
	}}
	assert.Equal(t,
		`INSERT INTO "content"."genre" ("id", "name", "created") VALUES ($1::uuid, $2::text, $3::timestamp with time zone) ON CONFLICT DO NOTHING`,
		InsertSQL("content", table))
}

func TestSave_BindsByColumnName(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	l := newLoader(d)

	g := entity.GenreRecord{ID: uuid.New(), Name: "Drama"}
	fw := entity.FilmWorkRecord{ID: uuid.New(), Title: "T", Type: entity.Movie}
	save(t, l, entity.Genre, g)
	save(t, l, entity.FilmWork, fw)
	res := save(t, l, entity.GenreFilmWork, entity.GenreFilmWorkRecord{ID: uuid.New(), FilmWorkID: fw.ID, GenreID: g.ID})
	assert.Equal(t, Result{Inserted: 1}, res)

	// Destination column order differs from the source for join tables.
	row := d.Tables["genre_film_work"].Rows[0]
	assert.Equal(t, g.ID, row["genre_id"])
	assert.Equal(t, fw.ID, row["film_work_id"])
	assert.Equal(t, loadTime, row["created"])

	genre := d.Tables["genre"].Rows[0]
	assert.Equal(t, loadTime, genre["created"])
	assert.Equal(t, loadTime, genre["modified"])
	assert.Equal(t, "", genre["description"])
}

func TestSave_Idempotent(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	people := []entity.Record{
		entity.PersonRecord{ID: uuid.New(), FullName: "A"},
		entity.PersonRecord{ID: uuid.New(), FullName: "B"},
		entity.PersonRecord{ID: uuid.New(), FullName: "C"},
	}

	first := save(t, newLoader(d), entity.Person, people...)
	assert.Equal(t, Result{Inserted: 3}, first)

	second := save(t, newLoader(d), entity.Person, people...)
	assert.Equal(t, Result{Skipped: 3}, second)
	assert.Equal(t, 3, d.Count("person"))
}

func TestSave_UniqueKeySkipsNewID(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	l := newLoader(d)

	res := save(t, l, entity.Person,
		entity.PersonRecord{ID: uuid.New(), FullName: "Same Name"},
		entity.PersonRecord{ID: uuid.New(), FullName: "Same Name"},
	)
	assert.Equal(t, Result{Inserted: 1, Skipped: 1}, res)
	assert.Equal(t, 1, d.Count("person"))
}

func TestSave_NullCreationDateNeverConflicts(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	day := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	res := save(t, newLoader(d), entity.FilmWork,
		entity.FilmWorkRecord{ID: uuid.New(), Title: "Remake", Type: entity.Movie},
		entity.FilmWorkRecord{ID: uuid.New(), Title: "Remake", Type: entity.Movie},
		entity.FilmWorkRecord{ID: uuid.New(), Title: "Remake", CreationDate: &day, Type: entity.Movie},
		entity.FilmWorkRecord{ID: uuid.New(), Title: "Remake", CreationDate: &day, Type: entity.Movie},
	)
	assert.Equal(t, Result{Inserted: 3, Skipped: 1}, res)
}

func TestSave_MissingParentIsLoadError(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	l := newLoader(d)
	link := entity.PersonFilmWorkRecord{ID: uuid.New(), FilmWorkID: uuid.New(), PersonID: uuid.New(), Role: ptr("actor")}

	err := l.WithStatement(context.Background(), entity.PersonFilmWork, func(st *Statement) error {
		_, err := st.Save(context.Background(), []entity.Record{link})
		return err
	})
	require.ErrorIs(t, err, etlerr.ErrLoad)
	assert.True(t, postgres.IsForeignKeyViolation(err))
	assert.Contains(t, err.Error(), "PersonFilmWork")
	assert.Contains(t, err.Error(), "SQLSTATE 23503")
	assert.Equal(t, []string{"insert_person_film_work"}, d.Deallocated, "failure path still deallocates")
}

func TestStatement_DeallocateExactlyOnce(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	l := newLoader(d)
	ctx := context.Background()

	st, err := l.Prepare(ctx, entity.Genre)
	require.NoError(t, err)
	assert.Equal(t, "insert_genre", st.Name())

	_, err = l.Prepare(ctx, entity.Person)
	require.ErrorIs(t, err, etlerr.ErrLoad, "one active statement at a time")

	require.NoError(t, st.Deallocate(ctx))
	require.NoError(t, st.Deallocate(ctx))
	assert.Equal(t, []string{"insert_genre"}, d.Deallocated)

	_, err = st.Save(ctx, []entity.Record{entity.GenreRecord{ID: uuid.New(), Name: "x"}})
	assert.ErrorIs(t, err, etlerr.ErrLoad)

	// The same kind can be prepared again once released.
	st, err = l.Prepare(ctx, entity.Genre)
	require.NoError(t, err)
	require.NoError(t, st.Deallocate(ctx))
}

func TestWithStatement_DeallocatesOnPanicAndError(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	l := newLoader(d)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = l.WithStatement(ctx, entity.Genre, func(*Statement) error { panic("boom") })
	})
	boom := errors.New("boom")
	err := l.WithStatement(ctx, entity.Person, func(*Statement) error { return boom })
	require.ErrorIs(t, err, boom)

	d.DeallocateErr = errors.New("gone")
	err = l.WithStatement(ctx, entity.FilmWork, func(*Statement) error { return boom })
	require.ErrorIs(t, err, boom, "deallocate failure does not mask the body error")

	assert.Equal(t, []string{"insert_genre", "insert_person", "insert_film_work"}, d.Deallocated)
}

func TestSave_WrongKindRejected(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	err := newLoader(d).WithStatement(context.Background(), entity.Genre, func(st *Statement) error {
		_, err := st.Save(context.Background(), []entity.Record{entity.PersonRecord{ID: uuid.New(), FullName: "x"}})
		return err
	})
	assert.ErrorIs(t, err, etlerr.ErrLoad)
	assert.Zero(t, d.Batches)
}

func TestPrepare_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	d := testutil.NewFakeDest("content")
	delete(d.Tables, "genre")
	_, err := newLoader(d).Prepare(ctx, entity.Genre)
	assert.ErrorIs(t, err, etlerr.ErrLoad)

	d = testutil.NewFakeDest("content")
	_, err = New(d, "elsewhere", WithResolver(schema.New())).Prepare(ctx, entity.Genre)
	assert.ErrorIs(t, err, schema.ErrEmpty)

	d = testutil.NewFakeDest("content")
	d.PrepareErr = errors.New("syntax error")
	_, err = newLoader(d).Prepare(ctx, entity.Genre)
	assert.ErrorIs(t, err, etlerr.ErrLoad)
	assert.Empty(t, d.Deallocated)
}

func TestLoader_SharesIntrospection(t *testing.T) {
	t.Parallel()

	d := testutil.NewFakeDest("content")
	l := newLoader(d)
	for _, k := range entity.Kinds() {
		require.NoError(t, l.WithStatement(context.Background(), k, func(*Statement) error { return nil }))
	}
	assert.Equal(t, 1, d.CatalogCalls)
}
