package authapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"warden/cmd/internal/auth/guard"
	"warden/cmd/internal/auth/session"
)

func toTokenResponse(res session.Result) tokenResponse {
	return tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.ExpiresIn / time.Second),
	}
}

func toMeResponse(p guard.Principal) meResponse {
	roles, perms := p.Roles, p.Permissions
	if roles == nil {
		roles = []string{}
	}
	if perms == nil {
		perms = []string{}
	}
	return meResponse{
		SubjectID:    p.SubjectID,
		TokenVersion: p.TokenVersion,
		Roles:        roles,
		Permissions:  perms,
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func requestMeta(r *http.Request, trustProxy bool) session.Meta {
	m := session.Meta{UserAgent: strings.TrimSpace(r.UserAgent())}
	if ip := clientIP(r, trustProxy); ip != nil {
		m.IP = ip.String()
	}
	return m
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
