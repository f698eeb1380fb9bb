// Package authapi exposes login, refresh, logout and logout-all over HTTP and
// adapts the guards to chi middleware.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"warden/cmd/internal/auth/autherr"
	"warden/cmd/internal/auth/guard"
	"warden/cmd/internal/auth/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler wires HTTP auth endpoints to the session orchestrator and guards.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	verifier *guard.Verifier
	cookies  CookiePolicy
	csrf     OriginChecker
	validate *validator.Validate
}

// NewHandler validates cfg and builds a Handler. The refresh cookie lives as
// long as the session idle TTL.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, verifier *guard.Verifier) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil || verifier == nil {
		return nil, errors.New("authapi: nil session service or verifier")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cookies, err := NewCookiePolicy(cfg.Cookie, sessions.Config().IdleTTL)
	if err != nil {
		return nil, err
	}

	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		verifier: verifier,
		cookies:  cookies,
		csrf:     NewOriginChecker(cfg.CSRFEnabled, cfg.CSRFTrustedOrigins),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Register mounts /auth/* and /me on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.With(h.RequireSameOrigin).Post("/refresh", h.handleRefresh)
		r.With(h.RequireSameOrigin).Post("/logout", h.handleLogout)
		r.With(h.RequireVerified).Post("/logout-all", h.handleLogoutAll)
	})
	r.With(h.RequireVerified).Get("/me", h.handleMe)
}

// ---- middleware ----

// RequireSameOrigin rejects cookie-authenticated requests from untrusted origins.
func (h *Handler) RequireSameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.csrf.Check(r); err != nil {
			h.log.WarnContext(r.Context(), "auth.csrf.reject", "path", r.URL.Path, "origin", r.Header.Get("Origin"), "referer", r.Header.Get("Referer"))
			writeError(w, r, h.log, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated admits any unexpired, well-signed bearer token.
func (h *Handler) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.verifier.RequireAuthenticated(bearerToken(r))
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(guard.WithPrincipal(r.Context(), p)))
	})
}

// RequireVerified admits bearer tokens whose version matches the live snapshot.
func (h *Handler) RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.verifier.RequireVerified(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(guard.WithPrincipal(r.Context(), p)))
	})
}

// RequirePermissions must run after RequireVerified.
func (h *Handler) RequirePermissions(allOf ...string) func(http.Handler) http.Handler {
	return h.authorize(func(p guard.Principal) (guard.Principal, error) {
		return guard.RequirePermissions(p, allOf...)
	})
}

// RequireRoles must run after RequireVerified.
func (h *Handler) RequireRoles(anyOf ...string) func(http.Handler) http.Handler {
	return h.authorize(func(p guard.Principal) (guard.Principal, error) {
		return guard.RequireRoles(p, anyOf...)
	})
}

func (h *Handler) authorize(check func(guard.Principal) (guard.Principal, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := guard.FromContext(r.Context())
			if !ok || !p.Verified {
				writeError(w, r, h.log, &autherr.TokenMissingError{Kind: autherr.Access})
				return
			}
			if _, err := check(p); err != nil {
				writeError(w, r, h.log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.log, &autherr.ValidationError{Message: "invalid request body", Err: err})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.log, validationError(err))
		return
	}

	res, err := h.sessions.Login(r.Context(), req.Email, req.Password, requestMeta(r, h.cfg.TrustProxy))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	h.cookies.Set(w, res.RefreshToken)
	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, _ := h.cookies.Read(r)

	res, err := h.sessions.Refresh(r.Context(), token, requestMeta(r, h.cfg.TrustProxy))
	if err != nil {
		var user *autherr.UserInvalidError
		if errors.As(err, &user) || autherr.ReasonOf(err) == autherr.ReasonSessionNotActive {
			h.cookies.Clear(w)
		}
		writeError(w, r, h.log, err)
		return
	}

	h.cookies.Set(w, res.RefreshToken)
	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := h.cookies.Read(r)
	h.cookies.Clear(w)

	if err := h.sessions.Logout(r.Context(), token, requestMeta(r, h.cfg.TrustProxy)); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := guard.FromContext(r.Context())
	h.cookies.Clear(w)

	n, err := h.sessions.LogoutAll(r.Context(), p.SubjectID, requestMeta(r, h.cfg.TrustProxy))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutAllResponse{RevokedSessions: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := guard.FromContext(r.Context())
	writeJSON(w, http.StatusOK, toMeResponse(p))
}

// validationError reports the first failing field by its JSON name.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return &autherr.ValidationError{
			Field:   strings.ToLower(f.Field()),
			Message: "failed " + f.Tag() + " check",
			Err:     err,
		}
	}
	return &autherr.ValidationError{Message: "invalid request", Err: err}
}
