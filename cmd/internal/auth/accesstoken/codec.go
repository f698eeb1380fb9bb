// Package accesstoken issues and decodes short-lived signed bearer tokens.
//
// Claims are sub, iss, aud, iat, exp, jti and tv (the subject's token_version
// at issue time). Decode never fails loudly: every input yields a Claims value
// and a Kind (none, expired or invalid).
package accesstoken

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a Decode outcome.
type Kind int

const (
	KindNone Kind = iota
	KindExpired
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Claim names.
const (
	ClaimSubject      = "sub"
	ClaimIssuer       = "iss"
	ClaimAudience     = "aud"
	ClaimIssuedAt     = "iat"
	ClaimExpiresAt    = "exp"
	ClaimNotBefore    = "nbf"
	ClaimID           = "jti"
	ClaimTokenVersion = "tv"
)

var reserved = map[string]struct{}{
	ClaimSubject: {}, ClaimIssuer: {}, ClaimAudience: {}, ClaimIssuedAt: {},
	ClaimExpiresAt: {}, ClaimNotBefore: {}, ClaimID: {}, ClaimTokenVersion: {},
}

// ErrInvalidSubject is returned by Issue for an empty subject or a non-positive version.
var ErrInvalidSubject = errors.New("access token: invalid subject or token version")

// ErrReservedClaim is returned by Issue when extra claims collide with registered ones.
var ErrReservedClaim = errors.New("access token: extra claim uses a reserved name")

// Claims is the decoded, immutable content of an access token.
type Claims struct {
	Subject      string
	Issuer       string
	Audience     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	ID           string
	TokenVersion int64
	Extra        map[string]any
}

// Issued is a freshly signed token and its expiry.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// Codec signs and verifies access tokens.
type Codec interface {
	Issue(subject string, tokenVersion int64, extra map[string]any, now time.Time) (Issued, error)
	Decode(token string, now time.Time) (Claims, Kind)
	TTL() time.Duration
}

// New builds the Codec selected by cfg.Algorithm.
func New(cfg Config) (Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Algorithm == AlgV4Public {
		return newPasetoCodec(cfg)
	}
	return newJWTCodec(cfg)
}

func checkIssue(subject string, tokenVersion int64, extra map[string]any) error {
	if strings.TrimSpace(subject) == "" || tokenVersion < 1 {
		return ErrInvalidSubject
	}
	for k := range extra {
		if _, ok := reserved[k]; ok {
			return ErrReservedClaim
		}
	}
	return nil
}

func newTokenID() string {
	return uuid.NewString()
}

func extraClaims(all map[string]any) map[string]any {
	var out map[string]any
	for k, v := range all {
		if _, ok := reserved[k]; ok {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}
