package audit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"warden/cmd/identity"
	"warden/cmd/internal/sqlitedb"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder appends events to audit_log.
type PostgresRecorder struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresRecorder writes to schema.audit_log.
func NewPostgresRecorder(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresRecorder, error) {
	if pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	if schema == "" {
		schema = "public"
	}
	if !identity.PgIdentIsValid(schema) {
		return nil, errors.New("audit: invalid schema identifier")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRecorder{pool: pool, table: identity.PgIdent(schema, "audit_log"), log: log}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, ev Event) {
	ev, ok := normalize(ev)
	if !ok {
		return
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO `+r.table+` (
			action, subject_id, session_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, ev.Action, nullIfEmpty(ev.SubjectID), nullIfEmpty(ev.SessionID), nullIfEmpty(ev.IP),
		nullIfEmpty(ev.UserAgent), metaJSON(ev.Meta), ev.At)
	if err != nil {
		r.log.ErrorContext(ctx, "audit.insert.fail", "err", err, "action", ev.Action)
	}
}

// SQLiteRecorder appends events to audit_log in the embedded database.
type SQLiteRecorder struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteRecorder wraps an open, migrated database.
func NewSQLiteRecorder(db *sql.DB, log *slog.Logger) (*SQLiteRecorder, error) {
	if db == nil {
		return nil, errors.New("audit: nil db")
	}
	if log == nil {
		log = slog.Default()
	}
	return &SQLiteRecorder{db: db, log: log}, nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, ev Event) {
	ev, ok := normalize(ev)
	if !ok {
		return
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			action, subject_id, session_id, ip, user_agent, meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Action, nullIfEmpty(ev.SubjectID), nullIfEmpty(ev.SessionID), nullIfEmpty(ev.IP),
		nullIfEmpty(ev.UserAgent), metaJSON(ev.Meta), sqlitedb.Micros(ev.At))
	if err != nil {
		r.log.ErrorContext(ctx, "audit.insert.fail", "err", err, "action", ev.Action)
	}
}
