package identity

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"warden/cmd/internal/dbmigrate"
	"warden/cmd/internal/pgtest"
	"warden/cmd/internal/sqlitedb"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "identity.db")
	if err := dbmigrate.RunSQLite(path, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := sqlitedb.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return st
}

func newPostgresTestStore(t *testing.T) Store {
	t.Helper()

	pool, schema := pgtest.Pool(t)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return st
}

func TestSQLiteStore(t *testing.T)   { runStoreSuite(t, newSQLiteTestStore) }
func TestPostgresStore(t *testing.T) { runStoreSuite(t, newPostgresTestStore) }

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndLookup", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		u, err := st.CreateUser(ctx, CreateUserInput{Email: "  Alice@Example.COM ", PasswordHash: "h1", Active: true, Now: now})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if len(u.ID) != 26 || u.TokenVersion != 1 || !u.Active || !u.CreatedAt.Equal(now) {
			t.Fatalf("unexpected user: %+v", u)
		}
		if u.Email != "Alice@Example.COM" {
			t.Fatalf("email should be kept as entered (trimmed), got %q", u.Email)
		}

		got, ok, err := st.GetByEmail(ctx, "alice@example.com")
		if err != nil || !ok {
			t.Fatalf("GetByEmail: ok=%v err=%v", ok, err)
		}
		if got.ID != u.ID || got.PasswordHash != "h1" {
			t.Fatalf("GetByEmail mismatch: %+v", got)
		}

		byID, ok, err := st.GetByID(ctx, u.ID)
		if err != nil || !ok || byID.Email != u.Email {
			t.Fatalf("GetByID: %+v ok=%v err=%v", byID, ok, err)
		}

		if _, ok, err := st.GetByEmail(ctx, "nobody@example.com"); err != nil || ok {
			t.Fatalf("unknown email: ok=%v err=%v", ok, err)
		}
		if _, ok, err := st.GetByID(ctx, "01J00000000000000000000000"); err != nil || ok {
			t.Fatalf("unknown id: ok=%v err=%v", ok, err)
		}

		_, err = st.CreateUser(ctx, CreateUserInput{Email: "ALICE@example.com", PasswordHash: "h2", Active: true})
		if !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("CreateRejectsBadInput", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		cases := []CreateUserInput{
			{Email: "", PasswordHash: "h"},
			{Email: "no-at-sign", PasswordHash: "h"},
			{Email: "a@", PasswordHash: "h"},
			{Email: "a@b.c", PasswordHash: " "},
		}
		for _, in := range cases {
			if _, err := st.CreateUser(ctx, in); !IsInvalidInput(err) {
				t.Fatalf("CreateUser(%+v): expected invalid input, got %v", in, err)
			}
		}
	})

	t.Run("SnapshotUnionsPermissions", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		u := mustCreate(t, st, "bob@example.com")
		if err := st.EnsureRole(ctx, "Admin", []string{"user:delete", "USER:READ", "user:read"}); err != nil {
			t.Fatalf("EnsureRole admin: %v", err)
		}
		if err := st.EnsureRole(ctx, "viewer", []string{"user:read", "report:read"}); err != nil {
			t.Fatalf("EnsureRole viewer: %v", err)
		}
		// Idempotent.
		if err := st.EnsureRole(ctx, "viewer", []string{"user:read"}); err != nil {
			t.Fatalf("EnsureRole again: %v", err)
		}
		for _, r := range []string{"viewer", "admin", "admin"} {
			if err := st.AssignRole(ctx, u.ID, r); err != nil {
				t.Fatalf("AssignRole %s: %v", r, err)
			}
		}

		snap, err := st.LoadSnapshot(ctx, u.ID)
		if err != nil {
			t.Fatalf("LoadSnapshot: %v", err)
		}
		if snap.TokenVersion != 1 || snap.Absent() {
			t.Fatalf("unexpected token version: %+v", snap)
		}
		if want := []string{"admin", "viewer"}; !reflect.DeepEqual(snap.Roles, want) {
			t.Fatalf("roles: got %v want %v", snap.Roles, want)
		}
		if want := []string{"report:read", "user:delete", "user:read"}; !reflect.DeepEqual(snap.Permissions, want) {
			t.Fatalf("permissions: got %v want %v", snap.Permissions, want)
		}
	})

	t.Run("SnapshotAbsentForMissingDisabledDeleted", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		snap, err := st.LoadSnapshot(ctx, "01J00000000000000000000000")
		if err != nil || !snap.Absent() {
			t.Fatalf("missing: %+v err=%v", snap, err)
		}
		if snap.Roles == nil || snap.Permissions == nil {
			t.Fatalf("absent snapshot should carry empty, non-nil slices")
		}

		disabled := mustCreate(t, st, "carol@example.com")
		tv, err := st.SetActive(ctx, disabled.ID, false)
		if err != nil {
			t.Fatalf("SetActive: %v", err)
		}
		if tv != 2 {
			t.Fatalf("deactivation should bump token_version, got %d", tv)
		}
		if snap, _ := st.LoadSnapshot(ctx, disabled.ID); !snap.Absent() {
			t.Fatalf("disabled user should be absent, got %+v", snap)
		}
		// Reactivation keeps the bumped version.
		tv, err = st.SetActive(ctx, disabled.ID, true)
		if err != nil || tv != 2 {
			t.Fatalf("reactivate: tv=%d err=%v", tv, err)
		}
		if snap, _ := st.LoadSnapshot(ctx, disabled.ID); snap.TokenVersion != 2 {
			t.Fatalf("reactivated snapshot: %+v", snap)
		}

		deleted := mustCreate(t, st, "dave@example.com")
		tv, err = st.SoftDelete(ctx, deleted.ID, time.Now())
		if err != nil || tv != 2 {
			t.Fatalf("SoftDelete: tv=%d err=%v", tv, err)
		}
		if snap, _ := st.LoadSnapshot(ctx, deleted.ID); !snap.Absent() {
			t.Fatalf("deleted user should be absent, got %+v", snap)
		}
		if _, ok, _ := st.GetByEmail(ctx, "dave@example.com"); ok {
			t.Fatalf("deleted user must not be found by email")
		}
		if u, ok, _ := st.GetByID(ctx, deleted.ID); !ok || !u.IsDeleted() || u.Usable() {
			t.Fatalf("GetByID should still see the deleted row: %+v", u)
		}
		if _, err := st.SoftDelete(ctx, deleted.ID, time.Now()); !IsNotFound(err) {
			t.Fatalf("second SoftDelete: expected not found, got %v", err)
		}
	})

	t.Run("PasswordChanges", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		u := mustCreate(t, st, "erin@example.com")

		ok, err := st.RehashPassword(ctx, u.ID, "stale", "fresh")
		if err != nil || ok {
			t.Fatalf("rehash with stale old hash: ok=%v err=%v", ok, err)
		}
		ok, err = st.RehashPassword(ctx, u.ID, u.PasswordHash, "fresh")
		if err != nil || !ok {
			t.Fatalf("rehash: ok=%v err=%v", ok, err)
		}
		got, _, _ := st.GetByID(ctx, u.ID)
		if got.PasswordHash != "fresh" || got.TokenVersion != 1 {
			t.Fatalf("rehash must not bump token_version: %+v", got)
		}

		tv, err := st.SetPassword(ctx, u.ID, "changed")
		if err != nil || tv != 2 {
			t.Fatalf("SetPassword: tv=%d err=%v", tv, err)
		}
		tv, err = st.BumpTokenVersion(ctx, u.ID)
		if err != nil || tv != 3 {
			t.Fatalf("BumpTokenVersion: tv=%d err=%v", tv, err)
		}

		if _, err := st.BumpTokenVersion(ctx, "01J00000000000000000000000"); !IsNotFound(err) {
			t.Fatalf("bump missing user: expected not found, got %v", err)
		}
		if _, err := st.SetPassword(ctx, u.ID, ""); !IsInvalidInput(err) {
			t.Fatalf("empty hash: expected invalid input, got %v", err)
		}
	})

	t.Run("AssignRoleMissingReferences", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		u := mustCreate(t, st, "frank@example.com")

		if err := st.AssignRole(ctx, u.ID, "ghost"); !IsNotFound(err) {
			t.Fatalf("unknown role: expected not found, got %v", err)
		}
		if err := st.EnsureRole(ctx, "member", nil); err != nil {
			t.Fatalf("EnsureRole: %v", err)
		}
		if err := st.AssignRole(ctx, "01J00000000000000000000000", "member"); !IsNotFound(err) {
			t.Fatalf("unknown user: expected not found, got %v", err)
		}
		if err := st.EnsureRole(ctx, " ", nil); !IsInvalidInput(err) {
			t.Fatalf("blank role: expected invalid input, got %v", err)
		}
	})
}

func mustCreate(t *testing.T, st Store, email string) User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), CreateUserInput{Email: email, PasswordHash: "hash-" + email, Active: true})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}
