package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Normalizer maps a raw column value to its extraction-boundary form.
type Normalizer func(v any) any

// Descriptor is the per-kind capability set used by the extractor, loader
// and checker.
type Descriptor struct {
	Kind Kind
	// Table is the source table name; the destination table has the same
	// name inside the destination namespace.
	Table string
	// Columns are the fields read from the source, in SELECT order.
	Columns     []string
	Normalizers map[string]Normalizer

	decode func(row map[string]any) (Record, error)
}

var descriptors = map[Kind]Descriptor{
	Genre: {
		Kind:        Genre,
		Columns:     []string{"id", "name", "description"},
		Normalizers: map[string]Normalizer{"description": NormalizeDescription},
		decode:      decodeGenre,
	},
	Person: {
		Kind:    Person,
		Columns: []string{"id", "full_name"},
		decode:  decodePerson,
	},
	FilmWork: {
		Kind:    FilmWork,
		Columns: []string{"id", "title", "description", "creation_date", "file_path", "rating", "type"},
		Normalizers: map[string]Normalizer{
			"description": NormalizeDescription,
			"rating":      NormalizeRating,
		},
		decode: decodeFilmWork,
	},
	GenreFilmWork: {
		Kind:    GenreFilmWork,
		Columns: []string{"id", "film_work_id", "genre_id"},
		decode:  decodeGenreFilmWork,
	},
	PersonFilmWork: {
		Kind:    PersonFilmWork,
		Columns: []string{"id", "film_work_id", "person_id", "role"},
		decode:  decodePersonFilmWork,
	},
}

// Describe returns the descriptor registered for k.
func Describe(k Kind) (Descriptor, error) {
	d, ok := descriptors[k]
	if !ok {
		return Descriptor{}, fmt.Errorf("entity: no descriptor for %s", k)
	}
	d.Table = k.Table()
	return d, nil
}

// MustDescribe is Describe for kinds known at compile time.
func MustDescribe(k Kind) Descriptor {
	d, err := Describe(k)
	if err != nil {
		panic(err)
	}
	return d
}

// SourceQuery is the fixed SELECT issued against the source store.
func (d Descriptor) SourceQuery() string {
	return "SELECT " + strings.Join(d.Columns, ", ") + " FROM " + d.Table
}

// Normalize applies the column's normalizer, if any.
func (d Descriptor) Normalize(column string, v any) any {
	if n, ok := d.Normalizers[column]; ok {
		return n(v)
	}
	return v
}

// Decode builds a typed record from a normalized row keyed by column name.
// Failures are *FieldError values naming the offending column.
func (d Descriptor) Decode(row map[string]any) (Record, error) {
	for _, c := range d.Columns {
		if _, ok := row[c]; !ok {
			return nil, &FieldError{Column: c, Err: ErrMissingField}
		}
	}
	return d.decode(row)
}

// ErrMissingField reports a required column that is absent or NULL.
var ErrMissingField = errors.New("missing required field")

// FieldError is a decode failure for one column.
type FieldError struct {
	Column string
	Err    error
}

func (e *FieldError) Error() string { return fmt.Sprintf("column %s: %v", e.Column, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

func decodeGenre(row map[string]any) (Record, error) {
	id, err := requireUUID(row, "id")
	if err != nil {
		return nil, err
	}
	name, err := requireText(row, "name")
	if err != nil {
		return nil, err
	}
	desc, err := requireText(row, "description")
	if err != nil {
		return nil, err
	}
	return GenreRecord{ID: id, Name: name, Description: desc}, nil
}

func decodePerson(row map[string]any) (Record, error) {
	id, err := requireUUID(row, "id")
	if err != nil {
		return nil, err
	}
	name, err := requireText(row, "full_name")
	if err != nil {
		return nil, err
	}
	return PersonRecord{ID: id, FullName: name}, nil
}

func decodeFilmWork(row map[string]any) (Record, error) {
	id, err := requireUUID(row, "id")
	if err != nil {
		return nil, err
	}
	title, err := requireText(row, "title")
	if err != nil {
		return nil, err
	}
	desc, err := requireText(row, "description")
	if err != nil {
		return nil, err
	}
	created, err := ParseDate(row["creation_date"])
	if err != nil {
		return nil, &FieldError{Column: "creation_date", Err: err}
	}
	path, err := optionalText(row, "file_path")
	if err != nil {
		return nil, err
	}
	rating, err := ParseFloat(row["rating"])
	if err != nil {
		return nil, &FieldError{Column: "rating", Err: err}
	}
	typ, err := requireText(row, "type")
	if err != nil {
		return nil, err
	}
	if !FilmType(typ).Valid() {
		return nil, &FieldError{Column: "type", Err: fmt.Errorf("unknown film type %q", typ)}
	}
	return FilmWorkRecord{
		ID:           id,
		Title:        title,
		Description:  desc,
		CreationDate: created,
		FilePath:     path,
		Rating:       rating,
		Type:         FilmType(typ),
	}, nil
}

func decodeGenreFilmWork(row map[string]any) (Record, error) {
	id, err := requireUUID(row, "id")
	if err != nil {
		return nil, err
	}
	fw, err := requireUUID(row, "film_work_id")
	if err != nil {
		return nil, err
	}
	g, err := requireUUID(row, "genre_id")
	if err != nil {
		return nil, err
	}
	return GenreFilmWorkRecord{ID: id, FilmWorkID: fw, GenreID: g}, nil
}

func decodePersonFilmWork(row map[string]any) (Record, error) {
	id, err := requireUUID(row, "id")
	if err != nil {
		return nil, err
	}
	fw, err := requireUUID(row, "film_work_id")
	if err != nil {
		return nil, err
	}
	p, err := requireUUID(row, "person_id")
	if err != nil {
		return nil, err
	}
	role, err := optionalText(row, "role")
	if err != nil {
		return nil, err
	}
	return PersonFilmWorkRecord{ID: id, FilmWorkID: fw, PersonID: p, Role: role}, nil
}
