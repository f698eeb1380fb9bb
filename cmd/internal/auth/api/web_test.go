package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCookiePolicy_SetAndClear(t *testing.T) {
	p, err := NewCookiePolicy(CookieConfig{
		Name:     "refresh_token",
		Path:     "/api/v1/auth",
		Secure:   true,
		SameSite: "strict",
	}, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("NewCookiePolicy: %v", err)
	}

	rr := httptest.NewRecorder()
	p.Set(rr, "tok-123")
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "refresh_token" || c.Value != "tok-123" || !c.HttpOnly || !c.Secure ||
		c.SameSite != http.SameSiteStrictMode || c.Path != "/api/v1/auth" || c.MaxAge != 14*24*3600 {
		t.Fatalf("unexpected cookie: %+v", c)
	}

	rr = httptest.NewRecorder()
	p.Clear(rr)
	c = rr.Result().Cookies()[0]
	if c.Value != "" || c.MaxAge >= 0 || c.Path != "/api/v1/auth" {
		t.Fatalf("unexpected clearing cookie: %+v", c)
	}
}

func TestCookiePolicy_RejectsInsecureNone(t *testing.T) {
	_, err := NewCookiePolicy(CookieConfig{Name: "r", Path: "/", SameSite: "none"}, time.Hour)
	if err == nil {
		t.Fatalf("samesite=none without secure must fail")
	}
}

func TestCookiePolicy_Read(t *testing.T) {
	p, err := NewCookiePolicy(CookieConfig{Name: "r", Path: "/", Secure: true, SameSite: "lax"}, time.Hour)
	if err != nil {
		t.Fatalf("NewCookiePolicy: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	if _, ok := p.Read(req); ok {
		t.Fatalf("no cookie should read as absent")
	}
	req.AddCookie(&http.Cookie{Name: "r", Value: "tok-123"})
	if v, ok := p.Read(req); !ok || v != "tok-123" {
		t.Fatalf("Read: %q %v", v, ok)
	}
}
