// Package audit records security events to an append-only sink.
//
// Recording is best effort: sinks log their own failures and never fail the
// auth operation that emitted the event.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// Actions emitted by the auth orchestrator.
const (
	ActionLoginSuccess  = "auth.login.success"
	ActionLoginFailed   = "auth.login.failed"
	ActionRefreshFailed = "auth.refresh.failed"
	ActionLogout        = "auth.logout"
	ActionLogoutAll     = "auth.logout_all"
)

// Event is one audit record. Meta must never carry secrets.
type Event struct {
	Action    string
	SubjectID string
	SessionID string
	IP        string
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Recorder is the narrow record_event boundary.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// LogRecorder writes events as structured log lines.
type LogRecorder struct {
	Log *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, ev Event) {
	ev, ok := normalize(ev)
	if !ok || r.Log == nil {
		return
	}
	attrs := []any{
		"action", ev.Action,
		"subject_id", ev.SubjectID,
		"session_id", ev.SessionID,
		"ip", ev.IP,
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, "meta", ev.Meta)
	}
	r.Log.InfoContext(ctx, "audit.event", attrs...)
}

// Multi fans an event out to every recorder.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, ev)
		}
	}
}

func normalize(ev Event) (Event, bool) {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return Event{}, false
	}
	ev.UserAgent = strings.TrimSpace(ev.UserAgent)
	if len(ev.UserAgent) > 512 {
		ev.UserAgent = ev.UserAgent[:512]
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.At = ev.At.UTC()
	return ev, true
}

func metaJSON(meta map[string]any) *string {
	if len(meta) == 0 {
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
