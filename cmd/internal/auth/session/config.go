package session

import (
	"fmt"
	"time"

	"warden/cmd/security/token"
)

// Config controls refresh-session lifetimes and entropy.
type Config struct {
	// IdleTTL is the sliding expiry granted at login and on each rotation.
	IdleTTL time.Duration `env:"IDLE_TTL"`

	// AbsoluteTTL is the ceiling fixed at login; rotation never extends past it.
	AbsoluteTTL time.Duration `env:"ABSOLUTE_TTL"`

	// RefreshTokenBytes is the random byte count behind each refresh token.
	RefreshTokenBytes int `env:"REFRESH_TOKEN_BYTES"`

	// BumpTokenVersionOnLogoutAll makes LogoutAll also invalidate outstanding
	// access tokens instead of letting them run out their TTL.
	BumpTokenVersionOnLogoutAll bool `env:"BUMP_TOKEN_VERSION_ON_LOGOUT_ALL"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTTL:           14 * 24 * time.Hour,
		AbsoluteTTL:       30 * 24 * time.Hour,
		RefreshTokenBytes: token.MinBytes,
	}
}

// Validate reports the first invalid field, wrapping ErrConfig.
func (c Config) Validate() error {
	switch {
	case c.IdleTTL < time.Minute:
		return fmt.Errorf("%w: session idle ttl must be at least 1m", ErrConfig)
	case c.AbsoluteTTL < c.IdleTTL:
		return fmt.Errorf("%w: session absolute ttl must be >= idle ttl", ErrConfig)
	case c.AbsoluteTTL > 365*24*time.Hour:
		return fmt.Errorf("%w: session absolute ttl must be <= 365d", ErrConfig)
	case c.RefreshTokenBytes < token.MinBytes || c.RefreshTokenBytes > token.MaxBytes:
		return fmt.Errorf("%w: refresh token bytes must be in [%d,%d]", ErrConfig, token.MinBytes, token.MaxBytes)
	}
	return nil
}
