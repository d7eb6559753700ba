package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Ident quotes a single identifier: film_work -> "film_work".
func Ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// FQN quotes a schema-qualified name: content.film_work -> "content"."film_work".
func FQN(namespace, table string) string {
	if namespace == "" {
		return Ident(table)
	}
	return Ident(namespace) + "." + Ident(table)
}

// Idents maps a list of column names to their quoted forms.
func Idents(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = Ident(c)
	}
	return out
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsForeignKeyViolation reports SQLSTATE 23503.
func IsForeignKeyViolation(err error) bool {
	pgErr, ok := asPgError(err)
	return ok && pgErr.Code == "23503"
}
