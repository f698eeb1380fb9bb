// Package pgtest provisions throwaway Postgres schemas for integration tests.
//
// Tests are enabled when WARDEN_DATABASE_URL is set; otherwise they skip.
package pgtest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/dbmigrate"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the variable that enables integration tests.
const EnvDatabaseURL = "WARDEN_DATABASE_URL"

// Pool returns a pool whose search_path is a fresh schema holding the full
// migration set, plus the schema name. The schema is dropped on cleanup.
func Pool(t testing.TB) (*pgxpool.Pool, string) {
	t.Helper()

	dbURL := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if dbURL == "" {
		t.Skip(EnvDatabaseURL + " is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("schema id: %v", err)
	}
	schema := "t_" + strings.ToLower(id)

	admin, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	if _, err := admin.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = admin.Close(ctx)
		t.Fatalf("create schema: %v", err)
	}
	_ = admin.Close(ctx)

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		conn, err := pgx.Connect(cctx, dbURL)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(cctx) }()
		_, _ = conn.Exec(cctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	ddl, err := dbmigrate.UpSQL(dbmigrate.Postgres)
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return pool, schema
}
