package autherr

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{&TokenMissingError{Kind: Refresh}, "AUTH_TOKEN_MISSING"},
		{&TokenExpiredError{Kind: Access}, "AUTH_TOKEN_EXPIRED"},
		{SessionNotActive(), "AUTH_TOKEN_INVALID"},
		{InvalidCredentials(), "AUTH_TOKEN_INVALID"},
		{&UserInvalidError{SubjectID: "x"}, "AUTH_USER_INVALID"},
		{Forbidden([]string{"a"}), "FORBIDDEN"},
		{&CsrfRejectedError{Reason: ReasonMissingOrigin}, "AUTH_CSRF_MISSING_ORIGIN"},
		{&CsrfRejectedError{Reason: ReasonOriginRejected}, "AUTH_CSRF_ORIGIN_REJECTED"},
		{&ValidationError{Field: "email", Message: "required"}, "VALIDATION_ERROR"},
		{errors.New("boom"), ""},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Fatalf("CodeOf(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("refresh: %w", SessionNotActive())
	if CodeOf(err) != "AUTH_TOKEN_INVALID" {
		t.Fatalf("expected code through wrapping")
	}
	if ReasonOf(err) != ReasonSessionNotActive {
		t.Fatalf("expected reason through wrapping, got %q", ReasonOf(err))
	}
}

func TestForbidden_SortsCopy(t *testing.T) {
	t.Parallel()

	in := []string{"user:write", "user:delete"}
	err := Forbidden(in)

	var fe *ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError")
	}
	if !reflect.DeepEqual(fe.Missing, []string{"user:delete", "user:write"}) {
		t.Fatalf("unexpected missing: %v", fe.Missing)
	}
	if in[0] != "user:write" {
		t.Fatalf("input slice must not be reordered")
	}
}
