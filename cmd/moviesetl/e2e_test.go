package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviesetl/internal/entity"
	"moviesetl/internal/storage/postgres"
	"moviesetl/internal/testutil"
)

const e2eDSNEnv = "MOVIESETL_TEST_PG_DSN"

const e2eDDL = `
CREATE SCHEMA %[1]s;
CREATE TABLE %[1]s.genre (
	id uuid PRIMARY KEY,
	name text NOT NULL UNIQUE,
	description text,
	created timestamp with time zone,
	modified timestamp with time zone
);
CREATE TABLE %[1]s.person (
	id uuid PRIMARY KEY,
	full_name text NOT NULL UNIQUE,
	created timestamp with time zone,
	modified timestamp with time zone
);
CREATE TABLE %[1]s.film_work (
	id uuid PRIMARY KEY,
	title text NOT NULL,
	description text,
	creation_date date,
	file_path text,
	rating double precision,
	type text NOT NULL,
	created timestamp with time zone,
	modified timestamp with time zone,
	UNIQUE (title, creation_date)
);
CREATE TABLE %[1]s.genre_film_work (
	id uuid PRIMARY KEY,
	genre_id uuid NOT NULL REFERENCES %[1]s.genre (id),
	film_work_id uuid NOT NULL REFERENCES %[1]s.film_work (id),
	created timestamp with time zone,
	UNIQUE (film_work_id, genre_id)
);
CREATE TABLE %[1]s.person_film_work (
	id uuid PRIMARY KEY,
	person_id uuid NOT NULL REFERENCES %[1]s.person (id),
	film_work_id uuid NOT NULL REFERENCES %[1]s.film_work (id),
	role text,
	created timestamp with time zone,
	UNIQUE (film_work_id, person_id, role)
);`

// TestE2E_LoadAndVerify runs the real binary wiring against PostgreSQL.
func TestE2E_LoadAndVerify(t *testing.T) {
	dsn := os.Getenv(e2eDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", e2eDSNEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pcfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)
	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close(context.Background()) })

	ns := "moviesetl_e2e_" + uuid.NewString()[:8]
	_, err = admin.Exec(ctx, fmt.Sprintf(e2eDDL, postgres.Ident(ns)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+postgres.Ident(ns)+" CASCADE")
	})

	fx := testutil.NewSourceDB(t)
	fx.Catalog()

	sslmode := os.Getenv("MOVIESETL_TEST_PG_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	args := []string{
		"load", "--verify",
		"--sqlite-db", fx.Path,
		"--db-host", pcfg.Host,
		"--db-port", strconv.Itoa(int(pcfg.Port)),
		"--db-name", pcfg.Database,
		"--db-user", pcfg.User,
		"--db-password", pcfg.Password,
		"--db-sslmode", sslmode,
		"--db-schema", ns,
		"--batch-size", "1",
		"--log-level", "warn",
		"--env-file", filepath.Join(t.TempDir(), "none.env"),
	}

	// Twice: the second run inserts nothing and still verifies.
	for run := 1; run <= 2; run++ {
		var stdout, stderr bytes.Buffer
		code := execute(ctx, args, defaultDeps(), &stdout, &stderr)
		require.Equal(t, exitOK, code, "run %d: %s", run, stderr.String())
	}

	for _, k := range entity.Kinds() {
		var want, got int
		require.NoError(t, fx.DB.QueryRow("SELECT count(*) FROM "+k.Table()).Scan(&want))
		require.NoError(t, admin.QueryRow(ctx, "SELECT count(*) FROM "+postgres.FQN(ns, k.Table())).Scan(&got))
		assert.Equal(t, want, got, k.Table())
	}

	// One changed person is caught by a standalone check.
	_, err = admin.Exec(ctx, "UPDATE "+postgres.FQN(ns, "person")+" SET full_name = 'Changed' WHERE full_name = 'Bob Roe'")
	require.NoError(t, err)
	var stdout, stderr bytes.Buffer
	code := execute(ctx, append([]string{"check"}, args[2:]...), defaultDeps(), &stdout, &stderr)
	assert.Equal(t, exitConsistency, code)
	assert.Contains(t, stdout.String(), "full_name")
}
