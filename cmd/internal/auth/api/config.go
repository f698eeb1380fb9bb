package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrConfig is returned when the HTTP auth configuration is unsafe or malformed.
var ErrConfig = errors.New("authapi: invalid config")

// CookieConfig describes the refresh cookie. MaxAge is taken from the session idle TTL.
type CookieConfig struct {
	Name     string `env:"NAME"`
	Path     string `env:"PATH"`
	Domain   string `env:"DOMAIN"`
	Secure   bool   `env:"SECURE"`
	SameSite string `env:"SAMESITE"`
}

// Config controls the auth HTTP surface.
type Config struct {
	Cookie CookieConfig `envPrefix:"COOKIE_"`

	// CSRFTrustedOrigins is the exact Origin allowlist for cookie-authenticated
	// endpoints. It is separate from the CORS allowlist.
	CSRFEnabled        bool     `env:"CSRF_ENABLED"`
	CSRFTrustedOrigins []string `env:"CSRF_TRUSTED_ORIGINS" envSeparator:","`

	TrustProxy   bool  `env:"TRUST_PROXY"`
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES"`
}

// DefaultConfig returns secure defaults. CSRFTrustedOrigins must still be set.
func DefaultConfig() Config {
	return Config{
		Cookie: CookieConfig{
			Name:     "refresh_token",
			Path:     "/api/v1/auth",
			Secure:   true,
			SameSite: "strict",
		},
		CSRFEnabled:  true,
		MaxBodyBytes: 1 << 20, // 1 MiB
	}
}

// Validate enforces the cross-field cookie and CSRF rules.
func (c Config) Validate() error {
	name := strings.TrimSpace(c.Cookie.Name)
	if name == "" || strings.ContainsAny(name, " ;=,\t") {
		return fmt.Errorf("%w: cookie name %q", ErrConfig, c.Cookie.Name)
	}
	if !strings.HasPrefix(c.Cookie.Path, "/") {
		return fmt.Errorf("%w: cookie path must start with /", ErrConfig)
	}

	ss, ok := parseSameSite(c.Cookie.SameSite)
	if !ok {
		return fmt.Errorf("%w: cookie samesite must be strict, lax or none", ErrConfig)
	}
	if ss == http.SameSiteNoneMode && !c.Cookie.Secure {
		return fmt.Errorf("%w: samesite=none requires secure cookies", ErrConfig)
	}

	if c.CSRFEnabled {
		if len(c.CSRFTrustedOrigins) == 0 {
			return fmt.Errorf("%w: csrf is enabled but no trusted origins are configured", ErrConfig)
		}
		for _, o := range c.CSRFTrustedOrigins {
			if _, ok := normalizeOrigin(o); !ok {
				return fmt.Errorf("%w: csrf trusted origin %q is not scheme://host[:port]", ErrConfig, o)
			}
		}
	}

	if c.MaxBodyBytes <= 0 || c.MaxBodyBytes > 16<<20 {
		return fmt.Errorf("%w: max body bytes out of range", ErrConfig)
	}
	return nil
}

func parseSameSite(s string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode, true
	case "lax":
		return http.SameSiteLaxMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return http.SameSiteDefaultMode, false
	}
}
