// Package autherr defines the typed failures raised by the auth orchestrator and
// guards. Each carries a stable machine-readable code; the HTTP status mapping
// lives at the transport boundary.
package autherr

import (
	"errors"
	"sort"
	"strings"
)

// TokenKind names which credential a failure refers to.
type TokenKind string

const (
	Access  TokenKind = "access"
	Refresh TokenKind = "refresh"
)

// Reasons attached to InvalidTokenError.
const (
	ReasonInvalidSubject     = "invalid_subject"
	ReasonTokenRevoked       = "token_revoked"
	ReasonSessionNotActive   = "session_not_active"
	ReasonInvalidCredentials = "invalid_credentials"
)

// Reasons attached to CsrfRejectedError.
const (
	ReasonOriginRejected = "origin_rejected"
	ReasonMissingOrigin  = "missing_origin"
)

// Coded is implemented by every error in this package.
type Coded interface {
	error
	Code() string
}

// TokenMissingError: no credential was presented.
type TokenMissingError struct {
	Kind TokenKind
}

func (e *TokenMissingError) Error() string { return string(e.Kind) + " token is missing" }
func (e *TokenMissingError) Code() string  { return "AUTH_TOKEN_MISSING" }

// TokenExpiredError: the credential was well-formed and signed but past expiry.
type TokenExpiredError struct {
	Kind TokenKind
}

func (e *TokenExpiredError) Error() string { return string(e.Kind) + " token has expired" }
func (e *TokenExpiredError) Code() string  { return "AUTH_TOKEN_EXPIRED" }

// InvalidTokenError: the credential cannot be honored. Reason is optional.
type InvalidTokenError struct {
	Kind   TokenKind
	Reason string
}

func (e *InvalidTokenError) Error() string {
	if e.Reason == "" {
		return "invalid " + string(e.Kind) + " token"
	}
	return "invalid " + string(e.Kind) + " token: " + e.Reason
}
func (e *InvalidTokenError) Code() string { return "AUTH_TOKEN_INVALID" }

// UserInvalidError covers missing, disabled and soft-deleted subjects alike.
// SubjectID is for server-side logs and is never rendered to clients.
type UserInvalidError struct {
	SubjectID string
}

func (e *UserInvalidError) Error() string { return "user is not found or disabled" }
func (e *UserInvalidError) Code() string  { return "AUTH_USER_INVALID" }

// ForbiddenError lists what the principal lacked, sorted.
type ForbiddenError struct {
	Missing []string
}

func (e *ForbiddenError) Error() string {
	if len(e.Missing) == 0 {
		return "forbidden"
	}
	return "forbidden: missing " + strings.Join(e.Missing, ", ")
}
func (e *ForbiddenError) Code() string { return "FORBIDDEN" }

// CsrfRejectedError: a cookie-authenticated request failed the origin check.
type CsrfRejectedError struct {
	Reason string
	Origin string
}

func (e *CsrfRejectedError) Error() string { return "csrf protection: " + e.Reason }
func (e *CsrfRejectedError) Code() string {
	if e.Reason == ReasonMissingOrigin {
		return "AUTH_CSRF_MISSING_ORIGIN"
	}
	return "AUTH_CSRF_ORIGIN_REJECTED"
}

// ValidationError: malformed input caught before the orchestrator.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return "validation: " + e.Field + ": " + e.Message
}
func (e *ValidationError) Code() string  { return "VALIDATION_ERROR" }
func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidCredentials is the single surface for unknown email and wrong password.
func InvalidCredentials() error {
	return &InvalidTokenError{Kind: Access, Reason: ReasonInvalidCredentials}
}

// SessionNotActive is returned for unknown, revoked and expired refresh tokens alike.
func SessionNotActive() error {
	return &InvalidTokenError{Kind: Refresh, Reason: ReasonSessionNotActive}
}

// Forbidden returns a ForbiddenError with a sorted copy of missing.
func Forbidden(missing []string) error {
	m := append([]string(nil), missing...)
	sort.Strings(m)
	return &ForbiddenError{Missing: m}
}

// CodeOf returns the stable code of err, or "" for errors outside this package.
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// ReasonOf returns the reason of an InvalidTokenError, or "".
func ReasonOf(err error) string {
	var it *InvalidTokenError
	if errors.As(err, &it) {
		return it.Reason
	}
	return ""
}
