package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (refresh_sessions).
// The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed session store over schema
// ("public" when empty).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if !identity.PgIdentIsValid(schema) {
		return nil, errors.New("session: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, table: identity.PgIdent(schema, "refresh_sessions")}, nil
}

const pgSessionColumns = `id, subject_id, token_hash, expires_at, absolute_expires_at,
	revoked_at, rotated_at, user_agent, ip_address, created_at, updated_at`

func pgScanSession(row pgx.Row) (Session, error) {
	var (
		s      Session
		ua, ip *string
	)
	err := row.Scan(
		&s.ID,
		&s.SubjectID,
		&s.TokenHash,
		&s.ExpiresAt,
		&s.AbsoluteExpiresAt,
		&s.RevokedAt,
		&s.RotatedAt,
		&ua,
		&ip,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	if ua != nil {
		s.UserAgent = *ua
	}
	if ip != nil {
		s.IPAddress = *ip
	}
	return normalizeTimes(s), nil
}

// Create inserts a new session row with a ULID id.
func (s *PostgresStore) Create(ctx context.Context, in NewSession) (Session, error) {
	in, err := checkNewSession(in)
	if err != nil {
		return Session{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Session{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table+` (
			id, subject_id, token_hash, expires_at, absolute_expires_at,
			revoked_at, rotated_at, user_agent, ip_address, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			NULL, NULL, $6, $7, $8, $8
		)
		RETURNING `+pgSessionColumns,
		id, in.SubjectID, in.TokenHash, in.ExpiresAt, in.AbsoluteExpiresAt,
		nullIfEmpty(in.UserAgent), nullIfEmpty(in.IPAddress), in.Now,
	)
	sess, err := pgScanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// FindActive looks up an active session without locking it.
func (s *PostgresStore) FindActive(ctx context.Context, tokenHash string, now time.Time) (Session, bool, error) {
	sess, err := pgScanSession(s.pool.QueryRow(ctx, `
		SELECT `+pgSessionColumns+`
		FROM `+s.table+`
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
		  AND absolute_expires_at > $2
	`, tokenHash, now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// Rotate replaces the token hash of an active session under FOR UPDATE.
func (s *PostgresStore) Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt, now time.Time) (Session, bool, error) {
	if newHash == "" || newHash == oldHash {
		return Session{}, false, fmt.Errorf("%w: rotation needs a fresh hash", ErrInvalidSession)
	}
	now = now.UTC()

	var (
		out Session
		ok  bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		cur, found, err := s.findActiveForUpdateTx(ctx, tx, oldHash, now)
		if err != nil || !found {
			return err
		}

		out, err = pgScanSession(tx.QueryRow(ctx, `
			UPDATE `+s.table+`
			SET token_hash = $2,
			    expires_at = $3,
			    rotated_at = $4,
			    updated_at = $4
			WHERE id = $1
			RETURNING `+pgSessionColumns,
			cur.ID, newHash, capExpiry(newExpiresAt.UTC(), cur.AbsoluteExpiresAt), now,
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

// Revoke revokes the active session for tokenHash. Missing or already
// inactive sessions return false.
func (s *PostgresStore) Revoke(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	now = now.UTC()

	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		cur, found, err := s.findActiveForUpdateTx(ctx, tx, tokenHash, now)
		if err != nil || !found {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE `+s.table+`
			SET revoked_at = $2, updated_at = $2
			WHERE id = $1 AND revoked_at IS NULL
		`, cur.ID, now); err != nil {
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

// RevokeAll revokes every active session of subjectID in one statement; the
// UPDATE takes the row locks itself.
func (s *PostgresStore) RevokeAll(ctx context.Context, subjectID string, now time.Time) (int64, error) {
	now = now.UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = $2, updated_at = $2
		WHERE subject_id = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
		  AND absolute_expires_at > $2
	`, subjectID, now)
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpired deletes dead rows.
func (s *PostgresStore) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+`
		WHERE expires_at <= $1 OR absolute_expires_at <= $1
	`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func normalizeTimes(s Session) Session {
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.AbsoluteExpiresAt = s.AbsoluteExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.RevokedAt != nil {
		t := s.RevokedAt.UTC()
		s.RevokedAt = &t
	}
	if s.RotatedAt != nil {
		t := s.RotatedAt.UTC()
		s.RotatedAt = &t
	}
	return s
}
