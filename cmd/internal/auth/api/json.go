package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"warden/cmd/internal/auth/autherr"
)

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the error envelope. Errors outside the auth
// taxonomy are logged and surfaced as an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "http.request.fail", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func errorBody(err error) (int, apiError) {
	var (
		missing   *autherr.TokenMissingError
		expired   *autherr.TokenExpiredError
		invalid   *autherr.InvalidTokenError
		user      *autherr.UserInvalidError
		forbidden *autherr.ForbiddenError
		csrf      *autherr.CsrfRejectedError
		validate  *autherr.ValidationError
	)

	switch {
	case errors.As(err, &missing):
		return http.StatusUnauthorized, apiError{Code: missing.Code(), Message: missing.Error()}
	case errors.As(err, &expired):
		return http.StatusUnauthorized, apiError{Code: expired.Code(), Message: expired.Error()}
	case errors.As(err, &invalid):
		e := apiError{Code: invalid.Code(), Message: "invalid " + string(invalid.Kind) + " token"}
		if invalid.Reason == autherr.ReasonInvalidCredentials {
			e.Message = "invalid credentials"
		}
		if invalid.Reason != "" {
			e.Details = map[string]any{"reason": invalid.Reason}
		}
		return http.StatusUnauthorized, e
	case errors.As(err, &user):
		// SubjectID stays server-side.
		return http.StatusUnauthorized, apiError{Code: user.Code(), Message: user.Error()}
	case errors.As(err, &forbidden):
		return http.StatusForbidden, apiError{Code: forbidden.Code(), Message: "forbidden", Details: map[string]any{"missing": forbidden.Missing}}
	case errors.As(err, &csrf):
		return http.StatusForbidden, apiError{Code: csrf.Code(), Message: csrf.Error()}
	case errors.As(err, &validate):
		e := apiError{Code: validate.Code(), Message: validate.Error()}
		if validate.Field != "" {
			e.Details = map[string]any{"field": validate.Field}
		}
		return http.StatusBadRequest, e
	default:
		return http.StatusInternalServerError, apiError{Code: "INTERNAL_ERROR", Message: "internal error"}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
