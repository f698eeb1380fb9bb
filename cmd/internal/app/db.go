package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/audit"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/dbmigrate"
	"warden/cmd/internal/sqlitedb"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles the persistence backends for the selected driver.
type Stores struct {
	Identity identity.Store
	Sessions session.Store
	Audit    audit.Recorder

	pool *pgxpool.Pool
	db   *sql.DB
}

// Ping reports whether the database answers within timeout.
func (s *Stores) Ping(ctx context.Context, timeout time.Duration) error {
	if s.pool != nil {
		return PingDB(ctx, s.pool, timeout)
	}
	if s.db == nil {
		return errors.New("db: not open")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the pool or database handle.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// OpenStores connects to the configured database, applying migrations first
// when AutoMigrate is set.
func OpenStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		if cfg.AutoMigrate {
			if err := dbmigrate.Run(cfg.DatabaseURL, "up"); err != nil {
				return nil, fmt.Errorf("db: migrate: %w", err)
			}
		}
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := postgresStores(pool, cfg.DatabaseSchema, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled", "driver", DriverPostgres, "schema", cfg.DatabaseSchema)
		return st, nil

	case DriverSQLite:
		if cfg.AutoMigrate {
			if err := dbmigrate.RunSQLite(cfg.SQLitePath, "up"); err != nil {
				return nil, fmt.Errorf("db: migrate: %w", err)
			}
		}
		db, err := sqlitedb.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, err := sqliteStores(db, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled", "driver", DriverSQLite, "path", cfg.SQLitePath)
		return st, nil
	}
	return nil, fmt.Errorf("%w: unknown database driver %q", ErrConfig, cfg.DatabaseDriver)
}

func postgresStores(pool *pgxpool.Pool, schema string, log Logger) (*Stores, error) {
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewPostgresStore(pool, schema)
	if err != nil {
		return nil, err
	}
	rec, err := audit.NewPostgresRecorder(pool, schema, log)
	if err != nil {
		return nil, err
	}
	return &Stores{Identity: users, Sessions: sessions, Audit: rec, pool: pool}, nil
}

func sqliteStores(db *sql.DB, log Logger) (*Stores, error) {
	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	rec, err := audit.NewSQLiteRecorder(db, log)
	if err != nil {
		return nil, err
	}
	return &Stores{Identity: users, Sessions: sessions, Audit: rec, db: db}, nil
}

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
