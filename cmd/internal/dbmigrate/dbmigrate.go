// Package dbmigrate applies the embedded schema migrations using golang-migrate.
package dbmigrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"warden/cmd/internal/sqlitedb"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFS embed.FS

// Dialect selects a migration set.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ErrDirection is returned for anything other than "up" or "down".
var ErrDirection = errors.New("dbmigrate: direction must be up or down")

// Run applies the Postgres migrations in direction using dsn.
// An already-current schema is not an error.
func Run(dsn, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("dbmigrate: empty database url")
	}
	if err := checkDirection(direction); err != nil {
		return err
	}

	src, err := migrationSource(Postgres)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("dbmigrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	return apply(m, direction)
}

// RunSQLite applies the SQLite migrations to the database file at path.
// It opens and closes its own handle.
func RunSQLite(path, direction string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("dbmigrate: empty sqlite path")
	}
	if err := checkDirection(direction); err != nil {
		return err
	}

	db, err := sqlitedb.Open(context.Background(), path)
	if err != nil {
		return fmt.Errorf("dbmigrate: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("dbmigrate: sqlite driver: %w", err)
	}

	src, err := migrationSource(SQLite)
	if err != nil {
		_ = drv.Close()
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("dbmigrate: %w", err)
	}
	// Closing m closes drv, which closes db.
	defer func() { _, _ = m.Close() }()

	return apply(m, direction)
}

// UpSQL returns the concatenated up migrations for d, in version order.
// Integration tests use it to build throwaway schemas without a migrations table.
func UpSQL(d Dialect) (string, error) {
	dir := "migrations/" + string(d)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return "", fmt.Errorf("dbmigrate: %w", err)
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		raw, err := fs.ReadFile(migrationFS, dir+"/"+e.Name())
		if err != nil {
			return "", fmt.Errorf("dbmigrate: %w", err)
		}
		b.Write(raw)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func migrationSource(d Dialect) (source.Driver, error) {
	src, err := iofs.New(migrationFS, "migrations/"+string(d))
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: source: %w", err)
	}
	return src, nil
}

func apply(m *migrate.Migrate, direction string) error {
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("dbmigrate: %s: %w", direction, err)
	}
	return nil
}

func checkDirection(direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("%w, got %q", ErrDirection, direction)
	}
	return nil
}
