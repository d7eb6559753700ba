// Package testutil holds fixtures shared by package tests: a throwaway
// SQLite source database with the five movie tables.
package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SourceSchema mirrors the source file layout. Columns are nullable so tests
// can seed malformed rows.
const SourceSchema = `
CREATE TABLE genre (
	id TEXT PRIMARY KEY,
	name TEXT,
	description TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE person (
	id TEXT PRIMARY KEY,
	full_name TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE film_work (
	id TEXT PRIMARY KEY,
	title TEXT,
	description TEXT,
	creation_date DATE,
	file_path TEXT,
	rating FLOAT,
	type TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE TABLE genre_film_work (
	id TEXT PRIMARY KEY,
	film_work_id TEXT,
	genre_id TEXT,
	created_at TIMESTAMP
);
CREATE TABLE person_film_work (
	id TEXT PRIMARY KEY,
	film_work_id TEXT,
	person_id TEXT,
	role TEXT,
	created_at TIMESTAMP
);`

// SourceDB is a writable handle on a fixture file. Tests seed it, then open
// the path through the connector under test.
type SourceDB struct {
	Path string
	DB   *sql.DB
	tb   testing.TB
}

// NewSourceDB creates an empty fixture database under tb.TempDir().
func NewSourceDB(tb testing.TB) *SourceDB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "db.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatalf("open fixture %s: %v", path, err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(SourceSchema); err != nil {
		tb.Fatalf("create fixture schema: %v", err)
	}
	return &SourceDB{Path: path, DB: db, tb: tb}
}

// Clone copies the fixture file to a new path and opens it, giving a second
// store with identical content.
func (s *SourceDB) Clone() *SourceDB {
	s.tb.Helper()
	data, err := os.ReadFile(s.Path)
	if err != nil {
		s.tb.Fatalf("read fixture: %v", err)
	}
	path := filepath.Join(s.tb.TempDir(), "clone.sqlite")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.tb.Fatalf("write clone: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		s.tb.Fatalf("open clone %s: %v", path, err)
	}
	s.tb.Cleanup(func() { _ = db.Close() })
	return &SourceDB{Path: path, DB: db, tb: s.tb}
}

// Exec runs a statement and fails the test on error.
func (s *SourceDB) Exec(q string, args ...any) {
	s.tb.Helper()
	if _, err := s.DB.Exec(q, args...); err != nil {
		s.tb.Fatalf("exec %q: %v", q, err)
	}
}

// Genre inserts a genre and returns its id. A nil description stays NULL.
func (s *SourceDB) Genre(name string, description any) string {
	s.tb.Helper()
	id := uuid.NewString()
	s.Exec("INSERT INTO genre (id, name, description) VALUES (?, ?, ?)", id, name, description)
	return id
}

// Person inserts a person and returns its id.
func (s *SourceDB) Person(fullName string) string {
	s.tb.Helper()
	id := uuid.NewString()
	s.Exec("INSERT INTO person (id, full_name) VALUES (?, ?)", id, fullName)
	return id
}

// FilmWork inserts a film work and returns its id. Nil arguments stay NULL.
func (s *SourceDB) FilmWork(title string, description, creationDate, filePath, rating any, typ string) string {
	s.tb.Helper()
	id := uuid.NewString()
	s.Exec(`INSERT INTO film_work (id, title, description, creation_date, file_path, rating, type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, id, title, description, creationDate, filePath, rating, typ)
	return id
}

// GenreFilmWork links a film work to a genre.
func (s *SourceDB) GenreFilmWork(filmWorkID, genreID string) string {
	s.tb.Helper()
	id := uuid.NewString()
	s.Exec("INSERT INTO genre_film_work (id, film_work_id, genre_id) VALUES (?, ?, ?)", id, filmWorkID, genreID)
	return id
}

// PersonFilmWork links a film work to a person in a role.
func (s *SourceDB) PersonFilmWork(filmWorkID, personID string, role any) string {
	s.tb.Helper()
	id := uuid.NewString()
	s.Exec("INSERT INTO person_film_work (id, film_work_id, person_id, role) VALUES (?, ?, ?, ?)", id, filmWorkID, personID, role)
	return id
}

// Persons inserts n people named "person-0001".. and returns their ids.
func (s *SourceDB) Persons(n int) []string {
	s.tb.Helper()
	tx, err := s.DB.Begin()
	if err != nil {
		s.tb.Fatalf("begin: %v", err)
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.NewString()
		if _, err := tx.Exec("INSERT INTO person (id, full_name) VALUES (?, ?)", id, fmt.Sprintf("person-%04d", i)); err != nil {
			_ = tx.Rollback()
			s.tb.Fatalf("insert person %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		s.tb.Fatalf("commit: %v", err)
	}
	return ids
}

// Catalog seeds a small consistent dataset touching every table and column
// edge case: NULL descriptions and ratings, a NULL creation date, and a
// NULL role.
func (s *SourceDB) Catalog() {
	s.tb.Helper()
	drama := s.Genre("Drama", "Serious stories")
	comedy := s.Genre("Comedy", nil)
	alice := s.Person("Alice Doe")
	bob := s.Person("Bob Roe")
	f1 := s.FilmWork("First", "A film", "2001-02-03", "movies/first.mp4", 8.5, "movie")
	f2 := s.FilmWork("Second", nil, nil, nil, nil, "tv_show")
	s.GenreFilmWork(f1, drama)
	s.GenreFilmWork(f2, comedy)
	s.GenreFilmWork(f2, drama)
	s.PersonFilmWork(f1, alice, "actor")
	s.PersonFilmWork(f1, bob, "director")
	s.PersonFilmWork(f2, bob, nil)
}
