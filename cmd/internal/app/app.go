// Package app wires the warden server runtime: config, logging, storage,
// the auth HTTP surface and the background session sweeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"warden/cmd/internal/audit"
	"warden/cmd/internal/auth/accesstoken"
	authapi "warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/guard"
	"warden/cmd/internal/auth/session"
	"warden/cmd/security/password"
	"warden/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// App is the warden server runtime.
type App struct {
	cfg Config
	log Logger

	stores   *Stores
	sessions *session.Service
	handler  http.Handler
}

// New validates cfg, opens storage and builds every component.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, stores, newRegistry())
	if err != nil {
		stores.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, stores *Stores, reg *prometheus.Registry) (*App, error) {
	pw, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	refresh, err := token.NewHasher(cfg.TokenHMACKey, cfg.RequireTokenHMAC)
	if err != nil {
		return nil, err
	}
	codec, err := accesstoken.New(cfg.Access)
	if err != nil {
		return nil, err
	}

	sessMetrics, err := session.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	httpM, err := newHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}

	svc, err := session.NewService(cfg.Session, session.Deps{
		Store:     stores.Sessions,
		Users:     stores.Identity,
		Passwords: pw,
		Refresh:   refresh,
		Codec:     codec,
		Audit:     audit.Multi{stores.Audit, audit.LogRecorder{Log: log}},
		Metrics:   sessMetrics,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	verifier, err := guard.NewVerifier(codec, stores.Identity, guard.WithLogger(log))
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(log, cfg.Auth, svc, verifier)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		stores:   stores,
		sessions: svc,
		handler:  newRouter(log, cfg, stores, reg, httpM, auth),
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and sweeps expired sessions until ctx is cancelled or a
// component fails. Storage is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer a.stores.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_driver", a.cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		a.log.Info("server.stopped")
		return nil
	})

	if a.cfg.SweepInterval > 0 {
		g.Go(func() error {
			return runSweeper(gctx, a.log, a.sessions, a.cfg.SweepInterval)
		})
	}

	return g.Wait()
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
