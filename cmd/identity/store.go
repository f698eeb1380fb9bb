package identity

import (
	"context"
	"time"
)

// SoftDeletable is implemented by entities that are hidden instead of removed.
type SoftDeletable interface {
	IsDeleted() bool
}

// User is the credential-bearing identity.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	TokenVersion int64
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsDeleted implements SoftDeletable.
func (u User) IsDeleted() bool { return u.DeletedAt != nil }

// Usable reports whether u may authenticate.
func (u User) Usable() bool { return u.Active && !u.IsDeleted() && u.TokenVersion > 0 }

// Snapshot is the live authorization state of a subject.
// TokenVersion 0 means the subject is absent, disabled or deleted.
type Snapshot struct {
	Roles        []string
	Permissions  []string
	TokenVersion int64
}

// Absent reports whether the snapshot is the "treat as absent" sentinel.
func (s Snapshot) Absent() bool { return s.TokenVersion == 0 }

// CreateUserInput describes a user to insert. PasswordHash is an encoded digest.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Active       bool
	Now          time.Time
}

// Store is the identity persistence boundary.
//
// Lookups return (value, found, error); a missing row is not an error.
// Mutations on a missing user return NotFoundError.
type Store interface {
	GetByEmail(ctx context.Context, email string) (User, bool, error)
	GetByID(ctx context.Context, id string) (User, bool, error)
	LoadSnapshot(ctx context.Context, id string) (Snapshot, error)

	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// RehashPassword swaps the digest only if it still equals oldHash. It does not
	// bump token_version because the credential itself is unchanged.
	RehashPassword(ctx context.Context, id, oldHash, newHash string) (bool, error)
	// SetPassword replaces the credential and bumps token_version.
	SetPassword(ctx context.Context, id, newHash string) (int64, error)
	// SetActive toggles the account; deactivation bumps token_version.
	SetActive(ctx context.Context, id string, active bool) (int64, error)
	// SoftDelete hides the user and bumps token_version.
	SoftDelete(ctx context.Context, id string, now time.Time) (int64, error)
	// BumpTokenVersion increments token_version and returns the new value.
	BumpTokenVersion(ctx context.Context, id string) (int64, error)

	EnsureRole(ctx context.Context, name string, permissions []string) error
	AssignRole(ctx context.Context, userID, role string) error
}
