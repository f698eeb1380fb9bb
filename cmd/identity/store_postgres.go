package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"warden/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted to avoid SQL injection via identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the identity tables (default "public").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !PgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const pgUserColumns = `id, email, password_hash, is_active, token_version, deleted_at, created_at, updated_at`

func pgScanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.TokenVersion, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if u.DeletedAt != nil {
		d := u.DeletedAt.UTC()
		u.DeletedAt = &d
	}
	return u, nil
}

// GetByEmail returns the non-deleted user owning email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (User, bool, error) {
	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, false, nil
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+PgIdent(s.schema, "users")+`
		  WHERE email_norm = $1 AND deleted_at IS NULL`,
		norm,
	)
	u, err := pgScanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// GetByID returns the user by id, including soft-deleted rows.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, false, nil
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+PgIdent(s.schema, "users")+` WHERE id = $1`,
		id,
	)
	u, err := pgScanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// LoadSnapshot reads live roles, permissions and token_version in one
// repeatable-read transaction so the three reads agree with each other.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, id string) (Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return absentSnapshot(), nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		active    bool
		tv        int64
		deletedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT is_active, token_version, deleted_at FROM `+PgIdent(s.schema, "users")+` WHERE id = $1`,
		id,
	).Scan(&active, &tv, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return absentSnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	if !active || deletedAt != nil || tv < 1 {
		return absentSnapshot(), nil
	}

	rows, err := tx.Query(ctx,
		`SELECT role_name FROM `+PgIdent(s.schema, "user_roles")+` WHERE user_id = $1`,
		id,
	)
	if err != nil {
		return Snapshot{}, err
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Snapshot{}, err
	}

	rows, err = tx.Query(ctx,
		`SELECT rp.permission_code
		   FROM `+PgIdent(s.schema, "user_roles")+` ur
		   JOIN `+PgIdent(s.schema, "role_permissions")+` rp ON rp.role_name = ur.role_name
		  WHERE ur.user_id = $1`,
		id,
	)
	if err != nil {
		return Snapshot{}, err
	}
	perms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Snapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Roles:        sortedUnique(roles),
		Permissions:  sortedUnique(perms),
		TokenVersion: tv,
	}, nil
}

// CreateUser inserts a user with token_version 1.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+PgIdent(s.schema, "users")+` (
		     id, email, email_norm, password_hash, is_active, token_version, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		 RETURNING `+pgUserColumns,
		id, email, norm, in.PasswordHash, in.Active, now,
	)
	u, err := pgScanUser(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// RehashPassword replaces the digest only while it still equals oldHash.
func (s *PostgresStore) RehashPassword(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	const op = "identity.RehashPassword"
	if strings.TrimSpace(newHash) == "" {
		return false, invalid(op, "new hash is required")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+PgIdent(s.schema, "users")+`
		    SET password_hash = $3, updated_at = now()
		  WHERE id = $1 AND password_hash = $2 AND deleted_at IS NULL`,
		id, oldHash, newHash,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetPassword replaces the credential and bumps token_version.
func (s *PostgresStore) SetPassword(ctx context.Context, id, newHash string) (int64, error) {
	const op = "identity.SetPassword"
	if strings.TrimSpace(newHash) == "" {
		return 0, invalid(op, "new hash is required")
	}
	return s.updateReturningVersion(ctx, op,
		`UPDATE `+PgIdent(s.schema, "users")+`
		    SET password_hash = $2, token_version = token_version + 1, updated_at = now()
		  WHERE id = $1 AND deleted_at IS NULL
		 RETURNING token_version`,
		id, newHash,
	)
}

// SetActive toggles is_active. Going from active to inactive bumps token_version.
func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) (int64, error) {
	return s.updateReturningVersion(ctx, "identity.SetActive",
		`UPDATE `+PgIdent(s.schema, "users")+`
		    SET token_version = CASE WHEN is_active AND NOT $2::boolean
		                             THEN token_version + 1 ELSE token_version END,
		        is_active = $2::boolean,
		        updated_at = now()
		  WHERE id = $1 AND deleted_at IS NULL
		 RETURNING token_version`,
		id, active,
	)
}

// SoftDelete stamps deleted_at and bumps token_version.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string, now time.Time) (int64, error) {
	if now.IsZero() {
		now = time.Now()
	}
	return s.updateReturningVersion(ctx, "identity.SoftDelete",
		`UPDATE `+PgIdent(s.schema, "users")+`
		    SET deleted_at = $2, token_version = token_version + 1, updated_at = $2
		  WHERE id = $1 AND deleted_at IS NULL
		 RETURNING token_version`,
		id, now.UTC(),
	)
}

// BumpTokenVersion invalidates every outstanding access token for the user.
func (s *PostgresStore) BumpTokenVersion(ctx context.Context, id string) (int64, error) {
	return s.updateReturningVersion(ctx, "identity.BumpTokenVersion",
		`UPDATE `+PgIdent(s.schema, "users")+`
		    SET token_version = token_version + 1, updated_at = now()
		  WHERE id = $1 AND deleted_at IS NULL
		 RETURNING token_version`,
		id,
	)
}

func (s *PostgresStore) updateReturningVersion(ctx context.Context, op, query string, args ...any) (int64, error) {
	if id, _ := args[0].(string); strings.TrimSpace(id) == "" {
		return 0, invalid(op, "user id is required")
	}
	var tv int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&tv)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return 0, err
	}
	return tv, nil
}

// EnsureRole creates the role if missing and grants it every listed permission.
// Existing grants are left in place.
func (s *PostgresStore) EnsureRole(ctx context.Context, name string, permissions []string) error {
	const op = "identity.EnsureRole"

	role, perms, err := checkRole(op, name, permissions)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	b.Queue(`INSERT INTO `+PgIdent(s.schema, "roles")+` (name) VALUES ($1) ON CONFLICT DO NOTHING`, role)
	for _, p := range perms {
		b.Queue(`INSERT INTO `+PgIdent(s.schema, "permissions")+` (code) VALUES ($1) ON CONFLICT DO NOTHING`, p)
		b.Queue(`INSERT INTO `+PgIdent(s.schema, "role_permissions")+` (role_name, permission_code)
		         VALUES ($1, $2) ON CONFLICT DO NOTHING`, role, p)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AssignRole links an existing user to an existing role. Re-assigning is a no-op.
func (s *PostgresStore) AssignRole(ctx context.Context, userID, role string) error {
	const op = "identity.AssignRole"

	userID = strings.TrimSpace(userID)
	role = NormalizeCode(role)
	if userID == "" || role == "" {
		return invalid(op, "user id and role are required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+PgIdent(s.schema, "user_roles")+` (user_id, role_name)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, role,
	)
	if err != nil {
		if resource, ok := pgForeignKeyResource(err); ok {
			return NotFoundError{Op: op, Resource: resource}
		}
		return err
	}
	return nil
}

// ---- helpers ----

// PgIdentIsValid checks if a string is a safe Postgres identifier.
func PgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// PgIdent safely quotes a schema-qualified identifier: "schema"."name".
func PgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgForeignKeyResource(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" { // foreign_key_violation
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.Contains(c, "user_id"), strings.Contains(c, "subject_id"):
		return "user", true
	case strings.Contains(c, "role"):
		return "role", true
	default:
		return "reference", true
	}
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
