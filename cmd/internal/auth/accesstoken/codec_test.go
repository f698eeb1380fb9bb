package accesstoken

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func hsConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	return cfg
}

func mustCodec(t *testing.T, cfg Config) Codec {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", cfg.Algorithm, err)
	}
	return c
}

func pkcs8PEM(t *testing.T, key any) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func allCodecs(t *testing.T) map[string]Codec {
	t.Helper()

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ecdsa: %v", err)
	}
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}

	es := DefaultConfig()
	es.Algorithm = AlgES256
	es.PrivateKey = pkcs8PEM(t, ecKey)

	ed := DefaultConfig()
	ed.Algorithm = AlgEdDSA
	ed.PrivateKey = pkcs8PEM(t, edKey)

	pv := DefaultConfig()
	pv.Algorithm = AlgV4Public
	pv.PasetoSecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	hs512 := hsConfig()
	hs512.Algorithm = AlgHS512

	return map[string]Codec{
		AlgHS256:    mustCodec(t, hsConfig()),
		AlgHS512:    mustCodec(t, hs512),
		AlgES256:    mustCodec(t, es),
		AlgEdDSA:    mustCodec(t, ed),
		AlgV4Public: mustCodec(t, pv),
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	for alg, c := range allCodecs(t) {
		issued, err := c.Issue("user-1", 3, map[string]any{"sid": "s-1"}, now)
		if err != nil {
			t.Fatalf("%s: Issue: %v", alg, err)
		}
		if issued.ExpiresIn != 15*time.Minute {
			t.Fatalf("%s: unexpected ExpiresIn %v", alg, issued.ExpiresIn)
		}

		claims, kind := c.Decode(issued.Token, now.Add(time.Second))
		if kind != KindNone {
			t.Fatalf("%s: expected KindNone, got %v", alg, kind)
		}
		if claims.Subject != "user-1" || claims.TokenVersion != 3 {
			t.Fatalf("%s: unexpected claims %+v", alg, claims)
		}
		if claims.Issuer != "warden" || claims.Audience != "warden-api" {
			t.Fatalf("%s: unexpected iss/aud %+v", alg, claims)
		}
		if claims.ID == "" {
			t.Fatalf("%s: expected jti", alg)
		}
		if !claims.ExpiresAt.Equal(issued.ExpiresAt) {
			t.Fatalf("%s: exp mismatch %v vs %v", alg, claims.ExpiresAt, issued.ExpiresAt)
		}
		if claims.Extra["sid"] != "s-1" {
			t.Fatalf("%s: extra claim lost: %+v", alg, claims.Extra)
		}
	}
}

func TestCodec_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	for alg, c := range allCodecs(t) {
		issued, err := c.Issue("user-1", 1, nil, now)
		if err != nil {
			t.Fatalf("%s: Issue: %v", alg, err)
		}
		if _, kind := c.Decode(issued.Token, now.Add(16*time.Minute)); kind != KindExpired {
			t.Fatalf("%s: expected KindExpired, got %v", alg, kind)
		}
	}
}

func TestCodec_MalformedInputNeverPanics(t *testing.T) {
	t.Parallel()

	now := time.Now()
	inputs := []string{"", "   ", "abc", "a.b.c", "v4.public.AAAA", strings.Repeat("x", 4096)}
	for alg, c := range allCodecs(t) {
		for _, in := range inputs {
			if _, kind := c.Decode(in, now); kind != KindInvalid {
				t.Fatalf("%s: Decode(%q) expected KindInvalid, got %v", alg, in, kind)
			}
		}
	}
}

func TestCodec_Tampered(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	for alg, c := range allCodecs(t) {
		issued, err := c.Issue("user-1", 1, nil, now)
		if err != nil {
			t.Fatalf("%s: Issue: %v", alg, err)
		}
		tok := []byte(issued.Token)
		i := len(tok) - 5
		if tok[i] == 'A' {
			tok[i] = 'B'
		} else {
			tok[i] = 'A'
		}
		if _, kind := c.Decode(string(tok), now); kind != KindInvalid {
			t.Fatalf("%s: expected KindInvalid for tampered token, got %v", alg, kind)
		}
	}
}

func TestJWT_WrongKeyIssuerAudience(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	verifier := mustCodec(t, hsConfig())

	otherSecret := hsConfig()
	otherSecret.Secret = strings.Repeat("z", 32)

	otherIssuer := hsConfig()
	otherIssuer.Issuer = "someone-else"

	otherAudience := hsConfig()
	otherAudience.Audience = "another-api"

	for name, cfg := range map[string]Config{
		"secret":   otherSecret,
		"issuer":   otherIssuer,
		"audience": otherAudience,
	} {
		issued, err := mustCodec(t, cfg).Issue("user-1", 1, nil, now)
		if err != nil {
			t.Fatalf("%s: Issue: %v", name, err)
		}
		if _, kind := verifier.Decode(issued.Token, now); kind != KindInvalid {
			t.Fatalf("%s: expected KindInvalid, got %v", name, kind)
		}
		// Expired and foreign is still invalid, not expired.
		if _, kind := verifier.Decode(issued.Token, now.Add(time.Hour)); kind != KindInvalid {
			t.Fatalf("%s: expected KindInvalid after expiry, got %v", name, kind)
		}
	}
}

func TestJWT_AlgorithmConfusionRejected(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	hs384 := hsConfig()
	hs384.Algorithm = AlgHS384

	issued, err := mustCodec(t, hs384).Issue("user-1", 1, nil, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, kind := mustCodec(t, hsConfig()).Decode(issued.Token, now); kind != KindInvalid {
		t.Fatalf("expected KindInvalid for a token signed with another algorithm, got %v", kind)
	}
}

func TestIssue_RejectsBadInput(t *testing.T) {
	t.Parallel()

	c := mustCodec(t, hsConfig())
	now := time.Now()

	if _, err := c.Issue("", 1, nil, now); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
	if _, err := c.Issue("user-1", 0, nil, now); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject for version 0, got %v", err)
	}
	if _, err := c.Issue("user-1", 1, map[string]any{"tv": 99}, now); !errors.Is(err, ErrReservedClaim) {
		t.Fatalf("expected ErrReservedClaim, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"short secret":      func(c *Config) { c.Secret = "short" },
		"unknown algorithm": func(c *Config) { c.Algorithm = "none" },
		"missing issuer":    func(c *Config) { c.Issuer = " " },
		"missing audience":  func(c *Config) { c.Audience = "" },
		"ttl too short":     func(c *Config) { c.TTL = time.Second },
		"rs256 no key":      func(c *Config) { c.Algorithm = AlgRS256 },
		"paseto no key":     func(c *Config) { c.Algorithm = AlgV4Public },
	}
	for name, mutate := range cases {
		cfg := hsConfig()
		mutate(&cfg)
		if _, err := New(cfg); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestNew_KeyTypeMismatch(t *testing.T) {
	t.Parallel()

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Algorithm = AlgES256
	cfg.PrivateKey = pkcs8PEM(t, edKey)

	if _, err := New(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for mismatched key type, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	if KindNone.String() != "none" || KindExpired.String() != "expired" || KindInvalid.String() != "invalid" {
		t.Fatalf("unexpected kind strings")
	}
}
