package entity

import (
	"time"

	"github.com/google/uuid"
)

// Record is one immutable row snapshot produced by the extractor.
type Record interface {
	Kind() Kind
	RecordID() uuid.UUID
	// Field returns the value bound to a destination column, and false when
	// the record carries no such field.
	Field(column string) (any, bool)
}

// FilmType enumerates film_work.type values.
type FilmType string

const (
	Movie  FilmType = "movie"
	TVShow FilmType = "tv_show"
)

// Valid reports whether t is a known film type.
func (t FilmType) Valid() bool { return t == Movie || t == TVShow }

// GenreRecord is a genre row.
type GenreRecord struct {
	ID          uuid.UUID
	Name        string
	Description string
}

func (GenreRecord) Kind() Kind            { return Genre }
func (r GenreRecord) RecordID() uuid.UUID { return r.ID }

func (r GenreRecord) Field(column string) (any, bool) {
	switch column {
	case "id":
		return r.ID, true
	case "name":
		return r.Name, true
	case "description":
		return r.Description, true
	}
	return nil, false
}

// PersonRecord is a person row.
type PersonRecord struct {
	ID       uuid.UUID
	FullName string
}

func (PersonRecord) Kind() Kind            { return Person }
func (r PersonRecord) RecordID() uuid.UUID { return r.ID }

func (r PersonRecord) Field(column string) (any, bool) {
	switch column {
	case "id":
		return r.ID, true
	case "full_name":
		return r.FullName, true
	}
	return nil, false
}

// FilmWorkRecord is a film_work row. CreationDate and FilePath are nullable.
type FilmWorkRecord struct {
	ID           uuid.UUID
	Title        string
	Description  string
	CreationDate *time.Time
	FilePath     *string
	Rating       float64
	Type         FilmType
}

func (FilmWorkRecord) Kind() Kind            { return FilmWork }
func (r FilmWorkRecord) RecordID() uuid.UUID { return r.ID }

func (r FilmWorkRecord) Field(column string) (any, bool) {
	switch column {
	case "id":
		return r.ID, true
	case "title":
		return r.Title, true
	case "description":
		return r.Description, true
	case "creation_date":
		if r.CreationDate == nil {
			return nil, true
		}
		return *r.CreationDate, true
	case "file_path":
		if r.FilePath == nil {
			return nil, true
		}
		return *r.FilePath, true
	case "rating":
		return r.Rating, true
	case "type":
		return string(r.Type), true
	}
	return nil, false
}

// GenreFilmWorkRecord links a film work to a genre.
type GenreFilmWorkRecord struct {
	ID         uuid.UUID
	FilmWorkID uuid.UUID
	GenreID    uuid.UUID
}

func (GenreFilmWorkRecord) Kind() Kind            { return GenreFilmWork }
func (r GenreFilmWorkRecord) RecordID() uuid.UUID { return r.ID }

func (r GenreFilmWorkRecord) Field(column string) (any, bool) {
	switch column {
	case "id":
		return r.ID, true
	case "film_work_id":
		return r.FilmWorkID, true
	case "genre_id":
		return r.GenreID, true
	}
	return nil, false
}

// PersonFilmWorkRecord links a film work to a person in a role. Role is
// nullable.
type PersonFilmWorkRecord struct {
	ID         uuid.UUID
	FilmWorkID uuid.UUID
	PersonID   uuid.UUID
	Role       *string
}

func (PersonFilmWorkRecord) Kind() Kind            { return PersonFilmWork }
func (r PersonFilmWorkRecord) RecordID() uuid.UUID { return r.ID }

func (r PersonFilmWorkRecord) Field(column string) (any, bool) {
	switch column {
	case "id":
		return r.ID, true
	case "film_work_id":
		return r.FilmWorkID, true
	case "person_id":
		return r.PersonID, true
	case "role":
		if r.Role == nil {
			return nil, true
		}
		return *r.Role, true
	}
	return nil, false
}
