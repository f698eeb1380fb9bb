package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/audit"
	"warden/cmd/internal/auth/accesstoken"
	"warden/cmd/internal/auth/autherr"
	"warden/cmd/security/token"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Directory is the slice of the identity store the orchestrator reads and writes.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (identity.User, bool, error)
	LoadSnapshot(ctx context.Context, id string) (identity.Snapshot, error)
	RehashPassword(ctx context.Context, id, oldHash, newHash string) (bool, error)
	BumpTokenVersion(ctx context.Context, id string) (int64, error)
}

// PasswordHasher verifies credentials and upgrades stale digests.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
	NeedsRehash(digest string) bool
}

// TokenHasher maps a refresh plaintext to its storage key.
type TokenHasher interface {
	Hash(plaintext string) string
}

// Deps are the collaborators of Service. Audit, Metrics and Logger are optional.
type Deps struct {
	Store     Store
	Users     Directory
	Passwords PasswordHasher
	Refresh   TokenHasher
	Codec     accesstoken.Codec
	Audit     audit.Recorder
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Service is the auth orchestrator.
type Service struct {
	cfg       Config
	store     Store
	users     Directory
	passwords PasswordHasher
	refresh   TokenHasher
	codec     accesstoken.Codec
	audit     audit.Recorder
	metrics   *Metrics
	log       *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// dummyDigest is verified against when the email is unknown so both
	// failure paths pay the same KDF cost.
	dummyDigest string
}

// Meta is request provenance stored on the session and in audit events.
type Meta struct {
	UserAgent string
	IP        string
}

// Result carries freshly issued credentials.
// RefreshToken must only ever reach the client through the refresh cookie.
type Result struct {
	SubjectID        string
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	ExpiresIn        time.Duration
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// NewService validates cfg and wires the orchestrator.
func NewService(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Users == nil || deps.Passwords == nil || deps.Refresh == nil || deps.Codec == nil {
		return nil, errors.New("session: missing dependency")
	}

	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		users:     deps.Users,
		passwords: deps.Passwords,
		refresh:   deps.Refresh,
		codec:     deps.Codec,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		tracer:    otel.Tracer("warden/session"),
		now:       time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dummy, err := s.passwords.Hash("warden-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("session: dummy digest: %w", err)
	}
	s.dummyDigest = dummy

	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Login authenticates email/password and opens a new refresh session.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Login")
	defer func() { s.finish(span, "login", err) }()

	now := s.now().UTC()
	norm := identity.NormalizeEmail(email)

	fail := func(err error, subjectID, reason string) (Result, error) {
		s.audit.Record(ctx, audit.Event{
			Action:    audit.ActionLoginFailed,
			SubjectID: subjectID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Meta:      map[string]any{"reason": reason},
			At:        now,
		})
		return Result{}, err
	}

	if norm == "" {
		return Result{}, &autherr.ValidationError{Field: "email", Message: "is required"}
	}
	if password == "" {
		return Result{}, &autherr.ValidationError{Field: "password", Message: "is required"}
	}

	u, found, err := s.users.GetByEmail(ctx, norm)
	if err != nil {
		return Result{}, fmt.Errorf("session: login: lookup: %w", err)
	}
	if !found {
		_ = s.passwords.Verify(password, s.dummyDigest)
		return fail(autherr.InvalidCredentials(), "", "unknown_email")
	}
	if !u.Active || u.IsDeleted() {
		_ = s.passwords.Verify(password, s.dummyDigest)
		return fail(&autherr.UserInvalidError{SubjectID: u.ID}, u.ID, "user_disabled")
	}
	if !s.passwords.Verify(password, u.PasswordHash) {
		return fail(autherr.InvalidCredentials(), u.ID, "bad_password")
	}
	if s.passwords.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u, password)
	}

	snap, err := s.users.LoadSnapshot(ctx, u.ID)
	if err != nil {
		return Result{}, fmt.Errorf("session: login: snapshot: %w", err)
	}
	if snap.Absent() {
		return fail(&autherr.UserInvalidError{SubjectID: u.ID}, u.ID, "user_invalid")
	}

	access, err := s.codec.Issue(u.ID, snap.TokenVersion, nil, now)
	if err != nil {
		return Result{}, fmt.Errorf("session: login: issue: %w", err)
	}

	plain, hash, err := s.newRefreshToken()
	if err != nil {
		return Result{}, err
	}

	sess, err := s.store.Create(ctx, NewSession{
		SubjectID:         u.ID,
		TokenHash:         hash,
		ExpiresAt:         now.Add(s.cfg.IdleTTL),
		AbsoluteExpiresAt: now.Add(s.cfg.AbsoluteTTL),
		UserAgent:         meta.UserAgent,
		IPAddress:         meta.IP,
		Now:               now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("session: login: %w", err)
	}

	span.SetAttributes(attribute.String("warden.subject_id", u.ID), attribute.String("warden.session_id", sess.ID))
	s.audit.Record(ctx, audit.Event{
		Action:    audit.ActionLoginSuccess,
		SubjectID: u.ID,
		SessionID: sess.ID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		At:        now,
	})
	s.log.InfoContext(ctx, "auth.login.ok", "subject_id", u.ID, "session_id", sess.ID)

	return s.result(u.ID, sess, access, plain), nil
}

// Refresh rotates the session behind refreshToken and issues a new access token.
// Unknown, revoked and expired sessions all fail as session_not_active.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta Meta) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "session.Refresh")
	defer func() { s.finish(span, "refresh", err) }()

	now := s.now().UTC()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Result{}, &autherr.TokenMissingError{Kind: autherr.Refresh}
	}

	fail := func(err error, subjectID string) (Result, error) {
		s.audit.Record(ctx, audit.Event{
			Action:    audit.ActionRefreshFailed,
			SubjectID: subjectID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Meta:      map[string]any{"reason": autherr.CodeOf(err)},
			At:        now,
		})
		return Result{}, err
	}

	// Sanity bound against pathological cookie values.
	if len(refreshToken) > 4096 {
		return fail(autherr.SessionNotActive(), "")
	}

	plain, newHash, err := s.newRefreshToken()
	if err != nil {
		return Result{}, err
	}

	sess, ok, err := s.store.Rotate(ctx, s.refresh.Hash(refreshToken), newHash, now.Add(s.cfg.IdleTTL), now)
	if err != nil {
		return Result{}, fmt.Errorf("session: refresh: %w", err)
	}
	if !ok {
		return fail(autherr.SessionNotActive(), "")
	}

	snap, err := s.users.LoadSnapshot(ctx, sess.SubjectID)
	if err != nil {
		return Result{}, fmt.Errorf("session: refresh: snapshot: %w", err)
	}
	if snap.Absent() {
		return fail(&autherr.UserInvalidError{SubjectID: sess.SubjectID}, sess.SubjectID)
	}

	access, err := s.codec.Issue(sess.SubjectID, snap.TokenVersion, nil, now)
	if err != nil {
		return Result{}, fmt.Errorf("session: refresh: issue: %w", err)
	}

	span.SetAttributes(attribute.String("warden.subject_id", sess.SubjectID), attribute.String("warden.session_id", sess.ID))
	return s.result(sess.SubjectID, sess, access, plain), nil
}

// Logout revokes the session behind refreshToken if there is one. It is
// idempotent: missing, unknown and already revoked tokens all succeed.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta Meta) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.Logout")
	defer func() { s.finish(span, "logout", err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" || len(refreshToken) > 4096 {
		return nil
	}

	now := s.now().UTC()
	revoked, err := s.store.Revoke(ctx, s.refresh.Hash(refreshToken), now)
	if err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		Action:    audit.ActionLogout,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Meta:      map[string]any{"revoked": revoked},
		At:        now,
	})
	return nil
}

// LogoutAll revokes every active session of subjectID and returns the count.
// With BumpTokenVersionOnLogoutAll it also invalidates outstanding access tokens.
func (s *Service) LogoutAll(ctx context.Context, subjectID string, meta Meta) (n int64, err error) {
	ctx, span := s.tracer.Start(ctx, "session.LogoutAll")
	defer func() { s.finish(span, "logout_all", err) }()

	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, &autherr.InvalidTokenError{Kind: autherr.Access, Reason: autherr.ReasonInvalidSubject}
	}

	now := s.now().UTC()
	n, err = s.store.RevokeAll(ctx, subjectID, now)
	if err != nil {
		return 0, fmt.Errorf("session: logout all: %w", err)
	}

	bumped := false
	if s.cfg.BumpTokenVersionOnLogoutAll {
		if _, err := s.users.BumpTokenVersion(ctx, subjectID); err != nil {
			return n, fmt.Errorf("session: logout all: bump token version: %w", err)
		}
		bumped = true
	}

	span.SetAttributes(attribute.String("warden.subject_id", subjectID), attribute.Int64("warden.revoked_sessions", n))
	s.audit.Record(ctx, audit.Event{
		Action:    audit.ActionLogoutAll,
		SubjectID: subjectID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Meta:      map[string]any{"revoked_sessions": n, "token_version_bumped": bumped},
		At:        now,
	})
	s.log.InfoContext(ctx, "auth.logout_all.ok", "subject_id", subjectID, "revoked_sessions", n)
	return n, nil
}

// Sweep deletes sessions whose idle or absolute expiry has passed.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.SweepExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.metrics.addSwept(n)
	return n, nil
}

func (s *Service) newRefreshToken() (plain, hash string, err error) {
	plain, err = token.Generate(s.cfg.RefreshTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("session: refresh token: %w", err)
	}
	return plain, s.refresh.Hash(plain), nil
}

// rehash upgrades a stale digest after a successful verify. Failures are
// logged and never fail the login.
func (s *Service) rehash(ctx context.Context, u identity.User, password string) {
	digest, err := s.passwords.Hash(password)
	if err != nil {
		s.log.WarnContext(ctx, "auth.password.rehash.fail", "subject_id", u.ID, "err", err)
		return
	}
	if _, err := s.users.RehashPassword(ctx, u.ID, u.PasswordHash, digest); err != nil {
		s.log.WarnContext(ctx, "auth.password.rehash.fail", "subject_id", u.ID, "err", err)
	}
}

func (s *Service) result(subjectID string, sess Session, access accesstoken.Issued, refreshPlain string) Result {
	return Result{
		SubjectID:        subjectID,
		SessionID:        sess.ID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		ExpiresIn:        access.ExpiresIn,
		RefreshToken:     refreshPlain,
		RefreshExpiresAt: sess.ExpiresAt,
	}
}

func (s *Service) finish(span trace.Span, op string, err error) {
	s.metrics.observe(op, err)
	if err != nil {
		span.SetAttributes(attribute.String("warden.outcome", outcome(err)))
		var coded autherr.Coded
		if !errors.As(err, &coded) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "internal error")
		}
	}
	span.End()
}
