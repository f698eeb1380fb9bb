package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"warden/cmd/identity"
	"warden/cmd/security/password"
)

func newAdminStore(t *testing.T) (identity.Store, password.Config) {
	t.Helper()

	cfg := validConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "warden.db")

	stores, err := OpenStores(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}
	t.Cleanup(stores.Close)

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	return stores.Identity, pw
}

func TestAdmin_UserLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	users, pw := newAdminStore(t)

	var out bytes.Buffer
	err := Admin(ctx, users, pw, []string{"user", "add", "Ada@Example.com"}, strings.NewReader("blue-otter-lantern-9\n"), &out)
	if err != nil {
		t.Fatalf("user add: %v", err)
	}
	id := strings.TrimSpace(out.String())

	u, found, err := users.GetByEmail(ctx, "ada@example.com")
	if err != nil || !found || u.ID != id {
		t.Fatalf("GetByEmail: found=%v id=%q err=%v want id=%q", found, u.ID, err, id)
	}
	h, err := password.NewHasher(pw)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if !h.Verify("blue-otter-lantern-9", u.PasswordHash) {
		t.Fatalf("stored digest does not verify")
	}

	if err := Admin(ctx, users, pw, []string{"role", "add", "admin", "user:delete", "user:read"}, nil, io.Discard); err != nil {
		t.Fatalf("role add: %v", err)
	}
	if err := Admin(ctx, users, pw, []string{"role", "assign", id, "admin"}, nil, io.Discard); err != nil {
		t.Fatalf("role assign: %v", err)
	}

	out.Reset()
	if err := Admin(ctx, users, pw, []string{"user", "bump", id}, nil, &out); err != nil {
		t.Fatalf("user bump: %v", err)
	}
	if got := out.String(); got != "token_version=2\n" {
		t.Fatalf("bump output=%q", got)
	}

	snap, err := users.LoadSnapshot(ctx, id)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.TokenVersion != 2 || len(snap.Roles) != 1 || snap.Roles[0] != "admin" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if len(snap.Permissions) != 2 || snap.Permissions[0] != "user:delete" {
		t.Fatalf("permissions=%v", snap.Permissions)
	}

	if err := Admin(ctx, users, pw, []string{"user", "disable", id}, nil, io.Discard); err != nil {
		t.Fatalf("user disable: %v", err)
	}
	snap, err = users.LoadSnapshot(ctx, id)
	if err != nil || !snap.Absent() {
		t.Fatalf("disabled user snapshot=%+v err=%v", snap, err)
	}
}

func TestAdmin_RejectsWeakPassword(t *testing.T) {
	t.Parallel()

	users, pw := newAdminStore(t)
	err := Admin(context.Background(), users, pw, []string{"user", "add", "bob@example.com"}, strings.NewReader("short\n"), io.Discard)
	if !errors.Is(err, password.ErrPasswordTooShort) {
		t.Fatalf("err=%v want ErrPasswordTooShort", err)
	}
}

func TestAdmin_Usage(t *testing.T) {
	t.Parallel()

	users, pw := newAdminStore(t)
	for _, args := range [][]string{nil, {"user"}, {"user", "bump"}, {"role", "assign", "x"}, {"group", "add"}} {
		if err := Admin(context.Background(), users, pw, args, nil, io.Discard); !errors.Is(err, ErrUsage) {
			t.Fatalf("args=%v err=%v want ErrUsage", args, err)
		}
	}
}
