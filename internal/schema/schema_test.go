package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviesetl/internal/testutil"
)

type fakeQuerier struct {
	rows  func() (*testutil.Rows, error)
	calls int
	args  []any
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.calls++
	q.args = args
	r, err := q.rows()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func catalog() (*testutil.Rows, error) {
	return testutil.NewRows(
		[]any{"film_work", "id", "uuid", "uuid"},
		[]any{"film_work", "title", "text", "text"},
		[]any{"film_work", "creation_date", "date", "date"},
		[]any{"film_work", "rating", "double precision", "float8"},
		[]any{"film_work", "type", "USER-DEFINED", "film_type"},
		[]any{"film_work", "tags", "ARRAY", "_text"},
		[]any{"genre", "id", "uuid", "uuid"},
		[]any{"genre", "name", "character varying", "varchar"},
	), nil
}

func TestResolve_GroupsByTableInOrdinalOrder(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{rows: catalog}
	s, err := New().Resolve(context.Background(), q, "content")
	require.NoError(t, err)

	assert.Equal(t, []any{"content"}, q.args)
	assert.Equal(t, []string{"film_work", "genre"}, s.TableNames())

	fw, ok := s.Table("film_work")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "title", "creation_date", "rating", "type", "tags"}, fw.ColumnNames())
	assert.Equal(t, []string{"uuid", "text", "date", "double precision", "film_type", "text[]"}, fw.ColumnTypes())

	_, ok = s.Table("person")
	assert.False(t, ok)
}

func TestResolve_CachesPerNamespace(t *testing.T) {
	t.Parallel()

	in := New()
	q := &fakeQuerier{rows: catalog}
	ctx := context.Background()

	a, err := in.Resolve(ctx, q, "content")
	require.NoError(t, err)
	b, err := in.Resolve(ctx, q, "content")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, q.calls)

	_, err = in.Resolve(ctx, q, "staging")
	require.NoError(t, err)
	assert.Equal(t, 2, q.calls)
	assert.Equal(t, 2, in.Lookups())
}

func TestResolve_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	in := New()
	ctx := context.Background()

	broken := &fakeQuerier{rows: func() (*testutil.Rows, error) { return nil, errors.New("connection reset") }}
	_, err := in.Resolve(ctx, broken, "content")
	require.Error(t, err)

	empty := &fakeQuerier{rows: func() (*testutil.Rows, error) { return testutil.NewRows(), nil }}
	_, err = in.Resolve(ctx, empty, "content")
	require.ErrorIs(t, err, ErrEmpty)

	midway := &fakeQuerier{rows: func() (*testutil.Rows, error) {
		r, _ := catalog()
		r.Fail = errors.New("canceled")
		return r, nil
	}}
	_, err = in.Resolve(ctx, midway, "content")
	require.Error(t, err)

	good := &fakeQuerier{rows: catalog}
	_, err = in.Resolve(ctx, good, "content")
	require.NoError(t, err)
	assert.Equal(t, 1, good.calls)
}
