package accesstoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtCodec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any

	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
}

func newJWTCodec(cfg Config) (*jwtCodec, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, cfg.Algorithm)
	}

	c := &jwtCodec{
		method:   method,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		leeway:   cfg.Leeway,
	}

	switch cfg.Algorithm {
	case AlgHS256, AlgHS384, AlgHS512:
		c.signKey = []byte(cfg.Secret)
		c.verifyKey = []byte(cfg.Secret)
	default:
		signer, pub, err := asymmetricKeys(cfg.Algorithm, cfg.PrivateKey, cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		c.signKey = signer
		c.verifyKey = pub
	}
	return c, nil
}

func (c *jwtCodec) TTL() time.Duration { return c.ttl }

func (c *jwtCodec) Issue(subject string, tokenVersion int64, extra map[string]any, now time.Time) (Issued, error) {
	if err := checkIssue(subject, tokenVersion, extra); err != nil {
		return Issued{}, err
	}

	// NumericDate has second precision; keep the returned expiry identical to the claim.
	iat := now.UTC().Truncate(time.Second)
	exp := iat.Add(c.ttl)

	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims[ClaimSubject] = subject
	claims[ClaimIssuer] = c.issuer
	claims[ClaimAudience] = c.audience
	claims[ClaimIssuedAt] = iat.Unix()
	claims[ClaimExpiresAt] = exp.Unix()
	claims[ClaimID] = newTokenID()
	claims[ClaimTokenVersion] = tokenVersion

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		return Issued{}, fmt.Errorf("access token: sign: %w", err)
	}
	return Issued{Token: signed, ExpiresAt: exp, ExpiresIn: c.ttl}, nil
}

func (c *jwtCodec) Decode(token string, now time.Time) (Claims, Kind) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, KindInvalid
	}

	p := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithJSONNumber(),
	)

	tok, err := p.ParseWithClaims(token, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		if onlyExpired(err) {
			return Claims{}, KindExpired
		}
		return Claims{}, KindInvalid
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, KindInvalid
	}
	claims, ok := claimsFromMap(mc)
	if !ok {
		return Claims{}, KindInvalid
	}
	return claims, KindNone
}

// onlyExpired reports whether expiry is the sole reason err rejected a correctly signed token.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenNotValidYet,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

func claimsFromMap(mc jwt.MapClaims) (Claims, bool) {
	sub, err := mc.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Claims{}, false
	}
	iss, err := mc.GetIssuer()
	if err != nil {
		return Claims{}, false
	}
	aud, err := mc.GetAudience()
	if err != nil || len(aud) == 0 {
		return Claims{}, false
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return Claims{}, false
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, false
	}

	tv, ok := int64Claim(mc[ClaimTokenVersion])
	if !ok || tv < 1 {
		return Claims{}, false
	}
	jti, _ := mc[ClaimID].(string)

	return Claims{
		Subject:      sub,
		Issuer:       iss,
		Audience:     aud[0],
		IssuedAt:     iat.UTC(),
		ExpiresAt:    exp.UTC(),
		ID:           jti,
		TokenVersion: tv,
		Extra:        extraClaims(mc),
	}, true
}

func int64Claim(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
