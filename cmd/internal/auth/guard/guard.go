// Package guard turns access tokens into principals and enforces role and
// permission requirements.
//
// RequireAuthenticated trusts only the token. RequireVerified re-reads the
// subject's live authorization snapshot, so token_version bumps and role
// changes take effect on the next request.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/identity/ids"
	"warden/cmd/internal/auth/accesstoken"
	"warden/cmd/internal/auth/autherr"
)

// SnapshotLoader reads live authorization state.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, id string) (identity.Snapshot, error)
}

// Principal is the request-scoped caller. Roles and Permissions are only
// populated when Verified is true.
type Principal struct {
	SubjectID    string
	TokenVersion int64
	Roles        []string
	Permissions  []string
	Verified     bool
}

// HasRole reports whether p holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether p holds perm.
func (p Principal) HasPermission(perm string) bool {
	for _, x := range p.Permissions {
		if x == perm {
			return true
		}
	}
	return false
}

// Verifier checks access tokens. It is safe for concurrent use.
type Verifier struct {
	codec     accesstoken.Codec
	snapshots SnapshotLoader
	log       *slog.Logger
	now       func() time.Time
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger used for revocation and disabled-user events.
func WithLogger(log *slog.Logger) Option {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVerifier returns a Verifier. snapshots may be nil when only
// RequireAuthenticated is used.
func NewVerifier(codec accesstoken.Codec, snapshots SnapshotLoader, opts ...Option) (*Verifier, error) {
	if codec == nil {
		return nil, fmt.Errorf("guard: nil codec")
	}
	v := &Verifier{
		codec:     codec,
		snapshots: snapshots,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify decodes token without touching storage.
func (v *Verifier) Verify(token string) (accesstoken.Claims, accesstoken.Kind) {
	return v.codec.Decode(token, v.now().UTC())
}

// RequireAuthenticated returns a minimal principal built from the token alone.
func (v *Verifier) RequireAuthenticated(token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, &autherr.TokenMissingError{Kind: autherr.Access}
	}

	claims, kind := v.Verify(token)
	switch kind {
	case accesstoken.KindExpired:
		return Principal{}, &autherr.TokenExpiredError{Kind: autherr.Access}
	case accesstoken.KindInvalid:
		return Principal{}, &autherr.InvalidTokenError{Kind: autherr.Access}
	}

	if !ids.Valid(claims.Subject) || claims.TokenVersion <= 0 {
		return Principal{}, &autherr.InvalidTokenError{Kind: autherr.Access, Reason: autherr.ReasonInvalidSubject}
	}

	return Principal{SubjectID: claims.Subject, TokenVersion: claims.TokenVersion}, nil
}

// RequireVerified authenticates token and checks it against the live snapshot.
// The returned principal carries the live roles, permissions and version.
func (v *Verifier) RequireVerified(ctx context.Context, token string) (Principal, error) {
	p, err := v.RequireAuthenticated(token)
	if err != nil {
		return Principal{}, err
	}
	if v.snapshots == nil {
		return Principal{}, fmt.Errorf("guard: no snapshot loader configured")
	}

	snap, err := v.snapshots.LoadSnapshot(ctx, p.SubjectID)
	if err != nil {
		return Principal{}, fmt.Errorf("guard: load snapshot: %w", err)
	}
	if snap.Absent() {
		v.log.WarnContext(ctx, "auth.user_invalid", "subject_id", p.SubjectID)
		return Principal{}, &autherr.UserInvalidError{SubjectID: p.SubjectID}
	}
	if p.TokenVersion != snap.TokenVersion {
		v.log.InfoContext(ctx, "auth.token_revoked", "subject_id", p.SubjectID, "claim_tv", p.TokenVersion, "live_tv", snap.TokenVersion)
		return Principal{}, &autherr.InvalidTokenError{Kind: autherr.Access, Reason: autherr.ReasonTokenRevoked}
	}

	return Principal{
		SubjectID:    p.SubjectID,
		TokenVersion: snap.TokenVersion,
		Roles:        snap.Roles,
		Permissions:  snap.Permissions,
		Verified:     true,
	}, nil
}

// RequireRoles passes when p holds at least one of anyOf. The Forbidden
// error lists every accepted role as "role:<name>".
func RequireRoles(p Principal, anyOf ...string) (Principal, error) {
	if len(anyOf) == 0 {
		return p, nil
	}
	for _, r := range anyOf {
		if p.HasRole(r) {
			return p, nil
		}
	}
	want := make([]string, 0, len(anyOf))
	for _, r := range uniq(anyOf) {
		want = append(want, "role:"+r)
	}
	return Principal{}, autherr.Forbidden(want)
}

// RequirePermissions passes when p holds every permission in allOf.
// The Forbidden error lists exactly the missing ones.
func RequirePermissions(p Principal, allOf ...string) (Principal, error) {
	var missing []string
	for _, perm := range uniq(allOf) {
		if !p.HasPermission(perm) {
			missing = append(missing, perm)
		}
	}
	if len(missing) > 0 {
		return Principal{}, autherr.Forbidden(missing)
	}
	return p, nil
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
