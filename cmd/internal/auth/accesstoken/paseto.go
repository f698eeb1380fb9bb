package accesstoken

import (
	"fmt"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoCodec struct {
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func newPasetoCodec(cfg Config) (*pasetoCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.PasetoSecretKeyHex))
	if err != nil {
		return nil, fmt.Errorf("%w: v4.public secret key: %v", ErrConfig, err)
	}

	return &pasetoCodec{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		leeway:   cfg.Leeway,
		secret:   secret,
		public:   secret.Public(),
	}, nil
}

func (c *pasetoCodec) TTL() time.Duration { return c.ttl }

func (c *pasetoCodec) Issue(subject string, tokenVersion int64, extra map[string]any, now time.Time) (Issued, error) {
	if err := checkIssue(subject, tokenVersion, extra); err != nil {
		return Issued{}, err
	}

	iat := now.UTC().Truncate(time.Second)
	exp := iat.Add(c.ttl)

	tok := paseto.NewToken()
	for k, v := range extra {
		if err := tok.Set(k, v); err != nil {
			return Issued{}, fmt.Errorf("access token: claim %q: %w", k, err)
		}
	}
	tok.SetSubject(subject)
	tok.SetIssuer(c.issuer)
	tok.SetAudience(c.audience)
	tok.SetIssuedAt(iat)
	tok.SetNotBefore(iat)
	tok.SetExpiration(exp)
	tok.SetJti(newTokenID())
	if err := tok.Set(ClaimTokenVersion, tokenVersion); err != nil {
		return Issued{}, fmt.Errorf("access token: claim tv: %w", err)
	}

	return Issued{Token: tok.V4Sign(c.secret, nil), ExpiresAt: exp, ExpiresIn: c.ttl}, nil
}

func (c *pasetoCodec) Decode(token string, now time.Time) (Claims, Kind) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, KindInvalid
	}

	// Expiry is checked by hand below so it can be told apart from other failures.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))
	p.AddRule(paseto.ForAudience(c.audience))

	parsed, err := p.ParseV4Public(c.public, token, nil)
	if err != nil {
		return Claims{}, KindInvalid
	}

	sub, err := parsed.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Claims{}, KindInvalid
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil || iat.After(now.Add(c.leeway)) {
		return Claims{}, KindInvalid
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && nbf.After(now.Add(c.leeway)) {
		return Claims{}, KindInvalid
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, KindInvalid
	}

	var tv int64
	if err := parsed.Get(ClaimTokenVersion, &tv); err != nil || tv < 1 {
		return Claims{}, KindInvalid
	}
	jti, _ := parsed.GetJti()

	if !now.Before(exp.Add(c.leeway)) {
		return Claims{}, KindExpired
	}

	return Claims{
		Subject:      sub,
		Issuer:       c.issuer,
		Audience:     c.audience,
		IssuedAt:     iat.UTC(),
		ExpiresAt:    exp.UTC(),
		ID:           jti,
		TokenVersion: tv,
		Extra:        extraClaims(parsed.Claims()),
	}, KindNone
}
