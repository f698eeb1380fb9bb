package dbmigrate

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestUpSQL_ContainsCoreTables(t *testing.T) {
	for _, d := range []Dialect{Postgres, SQLite} {
		sqlText, err := UpSQL(d)
		if err != nil {
			t.Fatalf("%s: UpSQL: %v", d, err)
		}
		for _, table := range []string{"users", "roles", "permissions", "role_permissions", "user_roles", "refresh_sessions", "audit_log"} {
			if !strings.Contains(sqlText, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				t.Fatalf("%s: missing table %s", d, table)
			}
		}
	}
}

func TestRun_RejectsBadDirection(t *testing.T) {
	if err := Run("postgres://localhost/x", "sideways"); !errors.Is(err, ErrDirection) {
		t.Fatalf("expected ErrDirection, got %v", err)
	}
	if err := RunSQLite("x.db", ""); !errors.Is(err, ErrDirection) {
		t.Fatalf("expected ErrDirection, got %v", err)
	}
}

func TestRunSQLite_UpDownUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.db")

	if err := RunSQLite(path, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	// Second run is a no-op.
	if err := RunSQLite(path, "up"); err != nil {
		t.Fatalf("up again: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='refresh_sessions'`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	_ = db.Close()
	if n != 1 {
		t.Fatalf("expected refresh_sessions table, got %d", n)
	}

	if err := RunSQLite(path, "down"); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := RunSQLite(path, "up"); err != nil {
		t.Fatalf("up after down: %v", err)
	}
}
