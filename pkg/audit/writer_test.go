package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
)

type fakeInserter struct {
	entries []Entry
	err     error
}

func (f *fakeInserter) Insert(_ context.Context, e *Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterLogAction(t *testing.T) {
	ins := &fakeInserter{}
	w := NewWriter(ins, quietLogger())

	r := httptest.NewRequest("POST", "/api/admin/roles/3", nil)
	r.Header.Set("User-Agent", "test-agent")
	r.RemoteAddr = "203.0.113.9:5511"

	uid := int64(7)
	w.LogAction(context.Background(), "role.updated", &uid, Entry{
		EntityType: "role",
		Metadata:   map[string]any{"role_id": 3},
	}, r)

	if len(ins.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(ins.entries))
	}
	e := ins.entries[0]
	if e.Action != "role.updated" {
		t.Errorf("action = %q", e.Action)
	}
	if e.UserID == nil || *e.UserID != 7 {
		t.Errorf("user id = %v, want 7", e.UserID)
	}
	if e.IPAddress != "203.0.113.9" {
		t.Errorf("ip = %q", e.IPAddress)
	}
	if e.UserAgent != "test-agent" {
		t.Errorf("user agent = %q", e.UserAgent)
	}
	if e.RequestPath != "/api/admin/roles/3" {
		t.Errorf("path = %q", e.RequestPath)
	}
}

// A failing store must never surface to the caller.
func TestWriterSwallowsStoreErrors(t *testing.T) {
	ins := &fakeInserter{err: errors.New("database is down")}
	w := NewWriter(ins, quietLogger())

	w.Log(context.Background(), Entry{Action: "login.succeeded"})
	// reaching here without a panic or error return is the contract
}

// Audit rows are written even when the originating request was cancelled.
func TestWriterSurvivesCancelledContext(t *testing.T) {
	ins := &fakeInserter{}
	w := NewWriter(ins, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.Log(ctx, Entry{Action: "logout"})
	if len(ins.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(ins.entries))
	}
}
