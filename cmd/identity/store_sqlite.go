package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"warden/cmd/identity/ids"
	"warden/cmd/internal/sqlitedb"
)

// SQLiteStore implements Store over the embedded SQLite backend.
// The *sql.DB is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open database that has the identity migrations applied.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteUserColumns = `id, email, password_hash, is_active, token_version, deleted_at, created_at, updated_at`

type sqliteScanner interface {
	Scan(dest ...any) error
}

func sqliteScanUser(row sqliteScanner) (User, error) {
	var (
		u                  User
		active             int64
		deletedAt          sql.NullInt64
		createdAt, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &active, &u.TokenVersion, &deletedAt, &createdAt, &updated); err != nil {
		return User{}, err
	}
	u.Active = active != 0
	u.DeletedAt = sqlitedb.TimePtr(deletedAt)
	u.CreatedAt = sqlitedb.Time(createdAt)
	u.UpdatedAt = sqlitedb.Time(updated)
	return u, nil
}

// GetByEmail returns the non-deleted user owning email.
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (User, bool, error) {
	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, false, nil
	}
	u, err := sqliteScanUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE email_norm = ? AND deleted_at IS NULL`, norm))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// GetByID returns the user by id, including soft-deleted rows.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (User, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, false, nil
	}
	u, err := sqliteScanUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// LoadSnapshot reads live roles, permissions and token_version in one transaction.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, id string) (Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return absentSnapshot(), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		active    int64
		tv        int64
		deletedAt sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT is_active, token_version, deleted_at FROM users WHERE id = ?`, id,
	).Scan(&active, &tv, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return absentSnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	if active == 0 || deletedAt.Valid || tv < 1 {
		return absentSnapshot(), nil
	}

	roles, err := sqliteStrings(ctx, tx, `SELECT role_name FROM user_roles WHERE user_id = ?`, id)
	if err != nil {
		return Snapshot{}, err
	}
	perms, err := sqliteStrings(ctx, tx,
		`SELECT rp.permission_code
		   FROM user_roles ur
		   JOIN role_permissions rp ON rp.role_name = ur.role_name
		  WHERE ur.user_id = ?`, id)
	if err != nil {
		return Snapshot{}, err
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Roles:        sortedUnique(roles),
		Permissions:  sortedUnique(perms),
		TokenVersion: tv,
	}, nil
}

func sqliteStrings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateUser inserts a user with token_version 1.
func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email, norm, err := checkCreateUser(op, in)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u, err := sqliteScanUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (
		     id, email, email_norm, password_hash, is_active, token_version, created_at, updated_at
		   ) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		 RETURNING `+sqliteUserColumns,
		id, email, norm, in.PasswordHash, sqlitedb.Bool(in.Active), sqlitedb.Micros(now), sqlitedb.Micros(now),
	))
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}
	return u, nil
}

// RehashPassword replaces the digest only while it still equals oldHash.
func (s *SQLiteStore) RehashPassword(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	const op = "identity.RehashPassword"
	if strings.TrimSpace(newHash) == "" {
		return false, invalid(op, "new hash is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ?
		  WHERE id = ? AND password_hash = ? AND deleted_at IS NULL`,
		newHash, sqlitedb.Micros(time.Now()), id, oldHash,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetPassword replaces the credential and bumps token_version.
func (s *SQLiteStore) SetPassword(ctx context.Context, id, newHash string) (int64, error) {
	const op = "identity.SetPassword"
	if strings.TrimSpace(newHash) == "" {
		return 0, invalid(op, "new hash is required")
	}
	return s.updateReturningVersion(ctx, op, id,
		`UPDATE users
		    SET password_hash = ?, token_version = token_version + 1, updated_at = ?
		  WHERE id = ? AND deleted_at IS NULL
		 RETURNING token_version`,
		newHash, sqlitedb.Micros(time.Now()), id,
	)
}

// SetActive toggles is_active. Going from active to inactive bumps token_version.
func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	flag := sqlitedb.Bool(active)
	return s.updateReturningVersion(ctx, "identity.SetActive", id,
		`UPDATE users
		    SET token_version = CASE WHEN is_active = 1 AND ? = 0
		                             THEN token_version + 1 ELSE token_version END,
		        is_active = ?,
		        updated_at = ?
		  WHERE id = ? AND deleted_at IS NULL
		 RETURNING token_version`,
		flag, flag, sqlitedb.Micros(time.Now()), id,
	)
}

// SoftDelete stamps deleted_at and bumps token_version.
func (s *SQLiteStore) SoftDelete(ctx context.Context, id string, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now()
	}
	at := sqlitedb.Micros(now)
	return s.updateReturningVersion(ctx, "identity.SoftDelete", id,
		`UPDATE users
		    SET deleted_at = ?, token_version = token_version + 1, updated_at = ?
		  WHERE id = ? AND deleted_at IS NULL
		 RETURNING token_version`,
		at, at, id,
	)
}

// BumpTokenVersion invalidates every outstanding access token for the user.
func (s *SQLiteStore) BumpTokenVersion(ctx context.Context, id string) (int64, error) {
	return s.updateReturningVersion(ctx, "identity.BumpTokenVersion", id,
		`UPDATE users
		    SET token_version = token_version + 1, updated_at = ?
		  WHERE id = ? AND deleted_at IS NULL
		 RETURNING token_version`,
		sqlitedb.Micros(time.Now()), id,
	)
}

func (s *SQLiteStore) updateReturningVersion(ctx context.Context, op, id, query string, args ...any) (int64, error) {
	if strings.TrimSpace(id) == "" {
		return 0, invalid(op, "user id is required")
	}
	var tv int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&tv)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return 0, err
	}
	return tv, nil
}

// EnsureRole creates the role if missing and grants it every listed permission.
func (s *SQLiteStore) EnsureRole(ctx context.Context, name string, permissions []string) error {
	const op = "identity.EnsureRole"

	role, perms, err := checkRole(op, name, permissions)
	if err != nil {
		return err
	}
	now := sqlitedb.Micros(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO roles (name, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`, role, now); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO permissions (code, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING`, p, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_name, permission_code) VALUES (?, ?) ON CONFLICT DO NOTHING`, role, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AssignRole links an existing user to an existing role. Re-assigning is a no-op.
func (s *SQLiteStore) AssignRole(ctx context.Context, userID, role string) error {
	const op = "identity.AssignRole"

	userID = strings.TrimSpace(userID)
	role = NormalizeCode(role)
	if userID == "" || role == "" {
		return invalid(op, "user id and role are required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_name) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		userID, role,
	)
	if sqlitedb.IsForeignKeyViolation(err) {
		// SQLite does not name the failing constraint; resolve it.
		var n int
		if qerr := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE id = ?`, userID).Scan(&n); qerr == nil && n == 0 {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return NotFoundError{Op: op, Resource: "role"}
	}
	return err
}
