package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/sqlitedb"
)

// SQLiteStore implements Store over the embedded SQLite backend.
//
// It expects a handle from sqlitedb.Open: with one pooled connection every
// transaction runs alone, which gives Rotate and Revoke the same
// one-winner guarantee as FOR UPDATE on Postgres.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("session: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSessionColumns = `id, subject_id, token_hash, expires_at, absolute_expires_at,
	revoked_at, rotated_at, user_agent, ip_address, created_at, updated_at`

type sqliteScanner interface {
	Scan(dest ...any) error
}

func sqliteScanSession(row sqliteScanner) (Session, error) {
	var (
		s                             Session
		exp, absExp, created, updated int64
		revoked, rotated              sql.NullInt64
		ua, ip                        sql.NullString
	)
	if err := row.Scan(&s.ID, &s.SubjectID, &s.TokenHash, &exp, &absExp, &revoked, &rotated, &ua, &ip, &created, &updated); err != nil {
		return Session{}, err
	}
	s.ExpiresAt = sqlitedb.Time(exp)
	s.AbsoluteExpiresAt = sqlitedb.Time(absExp)
	s.RevokedAt = sqlitedb.TimePtr(revoked)
	s.RotatedAt = sqlitedb.TimePtr(rotated)
	s.UserAgent = ua.String
	s.IPAddress = ip.String
	s.CreatedAt = sqlitedb.Time(created)
	s.UpdatedAt = sqlitedb.Time(updated)
	return s, nil
}

// Create inserts a new session row with a ULID id.
func (s *SQLiteStore) Create(ctx context.Context, in NewSession) (Session, error) {
	in, err := checkNewSession(in)
	if err != nil {
		return Session{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Session{}, err
	}

	now := sqlitedb.Micros(in.Now)
	sess, err := sqliteScanSession(s.db.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (
			id, subject_id, token_hash, expires_at, absolute_expires_at,
			revoked_at, rotated_at, user_agent, ip_address, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?, ?)
		RETURNING `+sqliteSessionColumns,
		id, in.SubjectID, in.TokenHash, sqlitedb.Micros(in.ExpiresAt), sqlitedb.Micros(in.AbsoluteExpiresAt),
		nullIfEmpty(in.UserAgent), nullIfEmpty(in.IPAddress), now, now,
	))
	if err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// FindActive looks up an active session.
func (s *SQLiteStore) FindActive(ctx context.Context, tokenHash string, now time.Time) (Session, bool, error) {
	return sqliteFindActive(ctx, s.db, tokenHash, now)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteFindActive(ctx context.Context, q sqliteQuerier, tokenHash string, now time.Time) (Session, bool, error) {
	at := sqlitedb.Micros(now)
	sess, err := sqliteScanSession(q.QueryRowContext(ctx, `
		SELECT `+sqliteSessionColumns+`
		FROM refresh_sessions
		WHERE token_hash = ?
		  AND revoked_at IS NULL
		  AND expires_at > ?
		  AND absolute_expires_at > ?
	`, tokenHash, at, at))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// Rotate replaces the token hash of an active session inside one transaction.
func (s *SQLiteStore) Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt, now time.Time) (Session, bool, error) {
	if newHash == "" || newHash == oldHash {
		return Session{}, false, fmt.Errorf("%w: rotation needs a fresh hash", ErrInvalidSession)
	}

	var (
		out Session
		ok  bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, found, err := sqliteFindActive(ctx, tx, oldHash, now)
		if err != nil || !found {
			return err
		}
		at := sqlitedb.Micros(now)
		out, err = sqliteScanSession(tx.QueryRowContext(ctx, `
			UPDATE refresh_sessions
			SET token_hash = ?, expires_at = ?, rotated_at = ?, updated_at = ?
			WHERE id = ?
			RETURNING `+sqliteSessionColumns,
			newHash, sqlitedb.Micros(capExpiry(newExpiresAt, cur.AbsoluteExpiresAt)), at, at, cur.ID,
		))
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("session: rotate: %w", err)
	}
	return out, ok, nil
}

// Revoke revokes the active session for tokenHash.
func (s *SQLiteStore) Revoke(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, found, err := sqliteFindActive(ctx, tx, tokenHash, now)
		if err != nil || !found {
			return err
		}
		at := sqlitedb.Micros(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_sessions SET revoked_at = ?, updated_at = ? WHERE id = ? AND revoked_at IS NULL`,
			at, at, cur.ID,
		); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("session: revoke: %w", err)
	}
	return ok, nil
}

// RevokeAll revokes every active session of subjectID.
func (s *SQLiteStore) RevokeAll(ctx context.Context, subjectID string, now time.Time) (int64, error) {
	at := sqlitedb.Micros(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_sessions
		SET revoked_at = ?, updated_at = ?
		WHERE subject_id = ?
		  AND revoked_at IS NULL
		  AND expires_at > ?
		  AND absolute_expires_at > ?
	`, at, at, subjectID, at, at)
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	return res.RowsAffected()
}

// SweepExpired deletes dead rows.
func (s *SQLiteStore) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	at := sqlitedb.Micros(before)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE expires_at <= ? OR absolute_expires_at <= ?`, at, at)
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
