package authapi

import (
	"net/http"
	"strings"
	"time"
)

// CookiePolicy writes, reads and clears the refresh cookie.
type CookiePolicy struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	maxAge   time.Duration
}

// NewCookiePolicy validates cfg and binds the cookie lifetime to maxAge.
func NewCookiePolicy(cfg CookieConfig, maxAge time.Duration) (CookiePolicy, error) {
	full := DefaultConfig()
	full.Cookie = cfg
	full.CSRFEnabled = false
	if err := full.Validate(); err != nil {
		return CookiePolicy{}, err
	}
	ss, _ := parseSameSite(cfg.SameSite)
	return CookiePolicy{
		name:     strings.TrimSpace(cfg.Name),
		path:     cfg.Path,
		domain:   strings.TrimSpace(cfg.Domain),
		secure:   cfg.Secure,
		sameSite: ss,
		maxAge:   maxAge,
	}, nil
}

// Name returns the cookie name.
func (p CookiePolicy) Name() string { return p.name }

// Set attaches token as an HttpOnly cookie.
func (p CookiePolicy) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.name,
		Value:    token,
		Path:     p.path,
		Domain:   p.domain,
		MaxAge:   int(p.maxAge / time.Second),
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: p.sameSite,
	})
}

// Clear expires the cookie with the same attributes it was set with.
func (p CookiePolicy) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.name,
		Value:    "",
		Path:     p.path,
		Domain:   p.domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: p.sameSite,
	})
}

// Read returns the trimmed cookie value, if present and non-empty.
func (p CookiePolicy) Read(r *http.Request) (string, bool) {
	c, err := r.Cookie(p.name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}
