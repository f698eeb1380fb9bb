package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// findActiveForUpdateTx is find_active with lock=true: the row stays locked
// until tx ends. A concurrent rotation that committed first changed token_hash,
// so the re-checked predicate no longer matches and this returns not found.
func (s *PostgresStore) findActiveForUpdateTx(ctx context.Context, tx pgx.Tx, tokenHash string, now time.Time) (Session, bool, error) {
	sess, err := pgScanSession(tx.QueryRow(ctx, `
		SELECT `+pgSessionColumns+`
		FROM `+s.table+`
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
		  AND absolute_expires_at > $2
		FOR UPDATE
	`, tokenHash, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}
