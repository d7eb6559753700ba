// Package entity describes the five record kinds moved by the migration and
// the per-kind capabilities the rest of the pipeline needs: table name, fixed
// source query, column list, field normalizers, and a typed decoder.
//
// Adding a kind means adding a Kind constant, a record type, and a
// descriptor entry; loader query building is driven by destination metadata
// and does not change.
package entity

import (
	"fmt"
	"strings"
	"unicode"
)

// Kind identifies one record category.
type Kind int

const (
	Genre Kind = iota + 1
	Person
	FilmWork
	GenreFilmWork
	PersonFilmWork
)

var kindNames = map[Kind]string{
	Genre:          "Genre",
	Person:         "Person",
	FilmWork:       "FilmWork",
	GenreFilmWork:  "GenreFilmWork",
	PersonFilmWork: "PersonFilmWork",
}

// String returns the CamelCase kind name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Table returns the snake_case table name for k, e.g. "film_work".
func (k Kind) Table() string { return SnakeCase(k.String()) }

// Kinds returns all kinds in load order: referenced entities first, join
// tables last.
func Kinds() []Kind {
	return []Kind{Genre, Person, FilmWork, PersonFilmWork, GenreFilmWork}
}

// ParseKind accepts either the CamelCase kind name or its table name,
// case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for k, n := range kindNames {
		if strings.EqualFold(s, n) || strings.EqualFold(s, SnakeCase(n)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}

// SnakeCase converts a CamelCase identifier to snake_case without any
// pluralization: "FilmWork" -> "film_work", "GenreFilmWork" ->
// "genre_film_work". Runs of capitals stay together ("HTTPServer" ->
// "http_server").
func SnakeCase(name string) string {
	rs := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
