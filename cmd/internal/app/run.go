package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Sweeper deletes expired sessions.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// runSweeper calls s.Sweep every interval until ctx is done. Sweep failures
// are logged and retried on the next tick.
func runSweeper(ctx context.Context, log Logger, s Sweeper, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("session.sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				log.Info("session.sweep.ok", "deleted", n)
			}
		}
	}
}

// Main is the warden entrypoint. It returns an error instead of calling
// os.Exit to keep defers effective.
func Main(args []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 || args[0] == "serve" {
		a, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	}

	if args[0] == "migrate" {
		if len(args) != 2 {
			return usageError()
		}
		if err := Migrate(cfg, args[1]); err != nil {
			return err
		}
		log.Info("db.migrate.ok", "direction", args[1], "driver", cfg.DatabaseDriver)
		return nil
	}

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	err = Admin(ctx, stores.Identity, cfg.Password, args, stdin, stdout)
	if errors.Is(err, ErrUsage) {
		return usageError()
	}
	return err
}

func usageError() error {
	return fmt.Errorf("%w\n%s", ErrUsage, usage)
}
