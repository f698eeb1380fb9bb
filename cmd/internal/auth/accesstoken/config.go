package accesstoken

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig is returned when access token configuration is invalid.
var ErrConfig = errors.New("access token: invalid config")

// Supported Algorithm values.
const (
	AlgHS256    = "HS256"
	AlgHS384    = "HS384"
	AlgHS512    = "HS512"
	AlgRS256    = "RS256"
	AlgES256    = "ES256"
	AlgEdDSA    = "EdDSA"
	AlgV4Public = "v4.public"
)

// Config selects the signing algorithm and the claims every token carries.
type Config struct {
	Algorithm string        `env:"ALGORITHM"`
	Issuer    string        `env:"ISSUER"`
	Audience  string        `env:"AUDIENCE"`
	TTL       time.Duration `env:"TTL"`
	Leeway    time.Duration `env:"LEEWAY"`

	// Secret is the shared key for HS* algorithms.
	Secret string `env:"SECRET"`

	// PrivateKey and PublicKey are inline PEM or a file path (RS256, ES256, EdDSA).
	// PublicKey is optional; it is derived from PrivateKey when empty.
	PrivateKey string `env:"PRIVATE_KEY"`
	PublicKey  string `env:"PUBLIC_KEY"`

	// PasetoSecretKeyHex is the Ed25519 secret key for v4.public.
	PasetoSecretKeyHex string `env:"PASETO_SECRET_KEY_HEX"`
}

// DefaultConfig returns HS256 with a 15 minute TTL. A secret must still be supplied.
func DefaultConfig() Config {
	return Config{
		Algorithm: AlgHS256,
		Issuer:    "warden",
		Audience:  "warden-api",
		TTL:       15 * time.Minute,
		Leeway:    5 * time.Second,
	}
}

// Validate checks the fields required by the selected algorithm.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if strings.TrimSpace(c.Audience) == "" {
		return fmt.Errorf("%w: audience is required", ErrConfig)
	}
	if c.TTL < time.Minute || c.TTL > 24*time.Hour {
		return fmt.Errorf("%w: ttl out of range [1m..24h]", ErrConfig)
	}
	if c.Leeway < 0 || c.Leeway > 5*time.Minute {
		return fmt.Errorf("%w: leeway out of range [0..5m]", ErrConfig)
	}

	switch c.Algorithm {
	case AlgHS256, AlgHS384, AlgHS512:
		if len(c.Secret) < 32 {
			return fmt.Errorf("%w: %s secret must be at least 32 bytes", ErrConfig, c.Algorithm)
		}
	case AlgRS256, AlgES256, AlgEdDSA:
		if strings.TrimSpace(c.PrivateKey) == "" {
			return fmt.Errorf("%w: %s requires a private key", ErrConfig, c.Algorithm)
		}
	case AlgV4Public:
		if strings.TrimSpace(c.PasetoSecretKeyHex) == "" {
			return fmt.Errorf("%w: v4.public requires a secret key", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, c.Algorithm)
	}
	return nil
}
