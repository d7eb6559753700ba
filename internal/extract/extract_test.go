package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviesetl/internal/entity"
	"moviesetl/internal/etlerr"
	"moviesetl/internal/storage/sqlite"
	"moviesetl/internal/testutil"
)

func openSource(t *testing.T, fx *testutil.SourceDB) *sqlite.Source {
	t.Helper()
	src, err := sqlite.Open(context.Background(), fx.Path, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func drain(t *testing.T, b *Batches) [][]entity.Record {
	t.Helper()
	defer b.Close()
	var out [][]entity.Record
	for b.Next() {
		out = append(out, b.Batch())
	}
	return out
}

func TestExtract_BatchBoundaries(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	ids := fx.Persons(250)
	x := New(openSource(t, fx), nil)

	b, err := x.Extract(context.Background(), entity.Person, 100)
	require.NoError(t, err)
	batches := drain(t, b)
	require.NoError(t, b.Err())

	var sizes []int
	var got []string
	for _, batch := range batches {
		sizes = append(sizes, len(batch))
		for _, r := range batch {
			got = append(got, r.RecordID().String())
		}
	}
	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, ids, got, "records keep source order")
	assert.Equal(t, 250, b.Rows())
}

func TestExtract_ExactMultipleHasNoEmptyTail(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	fx.Persons(200)
	b, err := New(openSource(t, fx), nil).Extract(context.Background(), entity.Person, 100)
	require.NoError(t, err)

	batches := drain(t, b)
	require.NoError(t, b.Err())
	require.Len(t, batches, 2)
	assert.False(t, b.Next(), "exhausted cursor stays exhausted")
}

func TestExtract_EmptyTable(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	b, err := New(openSource(t, fx), nil).Extract(context.Background(), entity.Genre, 10)
	require.NoError(t, err)
	assert.Empty(t, drain(t, b))
	assert.NoError(t, b.Err())
}

func TestExtract_NullNormalization(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	fx.Genre("Noir", nil)
	fx.FilmWork("Untitled", nil, nil, nil, nil, "movie")
	fx.FilmWork("Overrated", "loud", "1999-12-31", "a.mp4", 140.0, "tv_show")
	x := New(openSource(t, fx), nil)
	ctx := context.Background()

	b, err := x.Extract(ctx, entity.Genre, 100)
	require.NoError(t, err)
	genres := drain(t, b)
	require.NoError(t, b.Err())
	require.Len(t, genres, 1)
	g := genres[0][0].(entity.GenreRecord)
	assert.Equal(t, "Noir", g.Name)
	assert.Equal(t, "", g.Description)

	b, err = x.Extract(ctx, entity.FilmWork, 100)
	require.NoError(t, err)
	films := drain(t, b)
	require.NoError(t, b.Err())
	require.Len(t, films, 1)
	require.Len(t, films[0], 2)

	untitled := films[0][0].(entity.FilmWorkRecord)
	assert.Equal(t, "", untitled.Description)
	assert.Equal(t, 0.0, untitled.Rating)
	assert.Nil(t, untitled.CreationDate)
	assert.Nil(t, untitled.FilePath)

	overrated := films[0][1].(entity.FilmWorkRecord)
	assert.Equal(t, entity.MaxRating, overrated.Rating)
	require.NotNil(t, overrated.CreationDate)
	assert.Equal(t, "1999-12-31", overrated.CreationDate.Format("2006-01-02"))
	assert.Equal(t, entity.TVShow, overrated.Type)
}

func TestExtract_FreshQueryPerCall(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	fx.Persons(5)
	x := New(openSource(t, fx), nil)

	for i := 0; i < 2; i++ {
		b, err := x.Extract(context.Background(), entity.Person, 2)
		require.NoError(t, err)
		n := 0
		for _, batch := range drain(t, b) {
			n += len(batch)
		}
		assert.Equal(t, 5, n, fmt.Sprintf("pass %d", i))
	}
}

func TestExtract_MalformedRowStopsIteration(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	fx.Person("Ok One")
	fx.Exec("INSERT INTO person (id, full_name) VALUES (?, NULL)", "5f0c5a55-8c36-4b0e-9d39-38ad8bcbd3c6")
	fx.Person("Ok Two")

	b, err := New(openSource(t, fx), nil).Extract(context.Background(), entity.Person, 100)
	require.NoError(t, err)
	assert.Empty(t, drain(t, b), "a failing batch is not served")

	err = b.Err()
	require.ErrorIs(t, err, etlerr.ErrExtraction)
	require.ErrorIs(t, err, entity.ErrMissingField)

	var re *RowError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Row)
	assert.Equal(t, "full_name", re.Column)
	assert.Contains(t, err.Error(), "Person")
}

func TestExtract_BadInputs(t *testing.T) {
	t.Parallel()

	fx := testutil.NewSourceDB(t)
	fx.Exec("DROP TABLE genre")
	x := New(openSource(t, fx), nil)

	_, err := x.Extract(context.Background(), entity.Person, 0)
	assert.ErrorIs(t, err, etlerr.ErrExtraction)

	_, err = x.Extract(context.Background(), entity.Genre, 10)
	assert.ErrorIs(t, err, etlerr.ErrExtraction)
}
