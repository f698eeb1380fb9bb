package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Session mirrors one refresh_sessions row.
type Session struct {
	ID                string
	SubjectID         string
	TokenHash         string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	RevokedAt         *time.Time
	RotatedAt         *time.Time
	UserAgent         string
	IPAddress         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActiveAt reports whether the session can still be used at now.
func (s Session) ActiveAt(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now) && s.AbsoluteExpiresAt.After(now)
}

// NewSession is the input to Store.Create.
type NewSession struct {
	SubjectID         string
	TokenHash         string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	UserAgent         string
	IPAddress         string
	Now               time.Time
}

// Store persists refresh sessions keyed by token hash.
//
// Rotate, Revoke and RevokeAll lock the affected rows for the whole
// read-modify-write, so two callers racing on one hash see exactly one winner.
// A missing or inactive session is reported through the bool, never as an error.
type Store interface {
	Create(ctx context.Context, in NewSession) (Session, error)

	// FindActive returns the session iff the hash matches, it is not revoked,
	// and both expiries are after now.
	FindActive(ctx context.Context, tokenHash string, now time.Time) (Session, bool, error)

	// Rotate swaps oldHash for newHash on an active session, sets rotated_at and
	// moves expires_at to min(newExpiresAt, absolute_expires_at).
	Rotate(ctx context.Context, oldHash, newHash string, newExpiresAt, now time.Time) (Session, bool, error)

	// Revoke stamps revoked_at on the active session matching tokenHash.
	Revoke(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// RevokeAll revokes every active session of subjectID and returns the count.
	RevokeAll(ctx context.Context, subjectID string, now time.Time) (int64, error)

	// SweepExpired deletes rows whose idle or absolute expiry is at or before
	// before, revoked or not.
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
}

const maxUserAgentLen = 512

func checkNewSession(in NewSession) (NewSession, error) {
	in.SubjectID = strings.TrimSpace(in.SubjectID)
	if in.SubjectID == "" || in.TokenHash == "" {
		return NewSession{}, fmt.Errorf("%w: subject and token hash are required", ErrInvalidSession)
	}
	if in.ExpiresAt.IsZero() || in.AbsoluteExpiresAt.IsZero() {
		return NewSession{}, fmt.Errorf("%w: expiries are required", ErrInvalidSession)
	}
	if in.ExpiresAt.After(in.AbsoluteExpiresAt) {
		return NewSession{}, fmt.Errorf("%w: expires_at after absolute_expires_at", ErrInvalidSession)
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	in.Now = in.Now.UTC()
	in.ExpiresAt = in.ExpiresAt.UTC()
	in.AbsoluteExpiresAt = in.AbsoluteExpiresAt.UTC()
	in.UserAgent = strings.TrimSpace(in.UserAgent)
	if len(in.UserAgent) > maxUserAgentLen {
		in.UserAgent = in.UserAgent[:maxUserAgentLen]
	}
	in.IPAddress = strings.TrimSpace(in.IPAddress)
	return in, nil
}

// capExpiry enforces the absolute ceiling on a requested idle extension.
func capExpiry(requested, absolute time.Time) time.Time {
	if requested.After(absolute) {
		return absolute
	}
	return requested
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
