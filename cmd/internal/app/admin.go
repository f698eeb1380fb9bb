package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/dbmigrate"
	"warden/cmd/security/password"
)

// ErrUsage is returned for an unknown command or wrong arguments.
var ErrUsage = errors.New("usage")

const usage = `usage:
  warden [serve]
  warden migrate up|down
  warden user add <email>            (password read from stdin)
  warden user set-password <user-id> (password read from stdin)
  warden user disable|enable <user-id>
  warden user bump <user-id>
  warden role add <name> [permission...]
  warden role assign <user-id> <role>`

// Migrate applies the embedded migrations for the configured driver.
func Migrate(cfg Config, direction string) error {
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		return dbmigrate.Run(cfg.DatabaseURL, direction)
	case DriverSQLite:
		return dbmigrate.RunSQLite(cfg.SQLitePath, direction)
	}
	return fmt.Errorf("%w: unknown database driver %q", ErrConfig, cfg.DatabaseDriver)
}

// Admin runs one user or role administration command against users.
// Passwords are read from the first line of in so they never appear in argv.
func Admin(ctx context.Context, users identity.Store, pw password.Config, args []string, in io.Reader, out io.Writer) error {
	if len(args) < 2 {
		return ErrUsage
	}

	switch args[0] + " " + args[1] {
	case "user add":
		if len(args) != 3 {
			return ErrUsage
		}
		hash, err := readNewPassword(pw, in)
		if err != nil {
			return err
		}
		u, err := users.CreateUser(ctx, identity.CreateUserInput{
			Email:        args[2],
			PasswordHash: hash,
			Active:       true,
			Now:          time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, u.ID)
		return err

	case "user set-password":
		if len(args) != 3 {
			return ErrUsage
		}
		hash, err := readNewPassword(pw, in)
		if err != nil {
			return err
		}
		return printVersion(out)(users.SetPassword(ctx, args[2], hash))

	case "user disable", "user enable":
		if len(args) != 3 {
			return ErrUsage
		}
		return printVersion(out)(users.SetActive(ctx, args[2], args[1] == "enable"))

	case "user bump":
		if len(args) != 3 {
			return ErrUsage
		}
		return printVersion(out)(users.BumpTokenVersion(ctx, args[2]))

	case "role add":
		if len(args) < 3 {
			return ErrUsage
		}
		return users.EnsureRole(ctx, args[2], args[3:])

	case "role assign":
		if len(args) != 4 {
			return ErrUsage
		}
		return users.AssignRole(ctx, args[2], args[3])
	}
	return ErrUsage
}

func readNewPassword(cfg password.Config, in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	plain := strings.TrimRight(line, "\r\n")
	if err := cfg.Policy.Check(plain); err != nil {
		return "", err
	}

	h, err := password.NewHasher(cfg)
	if err != nil {
		return "", err
	}
	return h.Hash(plain)
}

// printVersion prints the token_version returned by a mutation.
func printVersion(out io.Writer) func(int64, error) error {
	return func(v int64, err error) error {
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "token_version=%d\n", v)
		return err
	}
}
