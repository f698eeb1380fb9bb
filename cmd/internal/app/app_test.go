package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := validConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "warden.db")
	cfg.Password.Params.MemoryKiB = 8 * 1024
	cfg.Password.Params.Iterations = 1
	cfg.Password.Params.Parallelism = 1

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores, err := OpenStores(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}
	t.Cleanup(stores.Close)

	a, err := build(cfg, log, stores, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a
}

func TestRouter_Probes(t *testing.T) {
	t.Parallel()

	h := newTestApp(t).Handler()

	for path, want := range map[string]string{"/healthz": "ok\n", "/readyz": "ready\n"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK || rr.Body.String() != want {
			t.Fatalf("%s: status=%d body=%q", path, rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: security headers missing", path)
		}
	}
}

func TestRouter_MetricsUseRoutePattern(t *testing.T) {
	t.Parallel()

	h := newTestApp(t).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `warden_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("request counter missing from /metrics:\n%s", body)
	}
}

func TestRouter_APIMountedUnderV1(t *testing.T) {
	t.Parallel()

	h := newTestApp(t).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", rr.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "AUTH_TOKEN_MISSING" {
		t.Fatalf("code=%q", body.Error.Code)
	}
}

type countingSweeper struct {
	calls atomic.Int32
	done  chan struct{}
}

func (s *countingSweeper) Sweep(context.Context) (int64, error) {
	if s.calls.Add(1) == 2 {
		close(s.done)
	}
	return 1, nil
}

func TestRunSweeper_TicksUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &countingSweeper{done: make(chan struct{})}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	errCh := make(chan error, 1)
	go func() { errCh <- runSweeper(ctx, log, s, 5*time.Millisecond) }()

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("sweeper did not tick")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runSweeper returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
