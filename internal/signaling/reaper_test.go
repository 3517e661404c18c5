package signaling

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"telehealth-portal/internal/audit"
	"telehealth-portal/internal/auth"
)

func TestReaper_SweepRemovesOnlyStaleSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	relay := NewMemoryRelay(store)
	t0 := time.Unix(1700000000, 0).UTC()

	old, err := store.Create(ctx, "APT-old", "doc-1", "O", t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, "APT-new", "doc-2", "O", t0.Add(90*time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := relay.Enqueue(ctx, old.Ref(), DirectionFromCaller, "stale"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	a := &memAudit{}
	r := NewReaper(store, relay, time.Hour, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Audit = a
	r.Now = func() time.Time { return t0.Add(2 * time.Hour) }

	ids, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 1 || ids[0] != "APT-old" {
		t.Fatalf("unexpected reaped ids %v", ids)
	}
	if _, err := store.Get(ctx, "APT-old"); err != ErrNotFound {
		t.Fatalf("expected stale session gone, got %v", err)
	}
	if _, err := store.Get(ctx, "APT-new"); err != nil {
		t.Fatalf("fresh session reaped: %v", err)
	}
	if got, _ := relay.DrainOpposite(ctx, old.Ref(), RoleCallee); len(got) != 0 {
		t.Fatalf("expected purged queue, got %+v", got)
	}
	if kinds := a.kinds(); len(kinds) != 1 || kinds[0] != AuditReaped {
		t.Fatalf("unexpected audit kinds %v", kinds)
	}
}

type rejectingAudit struct{}

func (rejectingAudit) LogSignalingEvent(ctx context.Context, e AuditEvent) error {
	return errors.New("audit store down")
}

func TestReaper_AuditFailureIsLoggedNotFatal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()
	if _, err := store.Create(ctx, "APT-old", "doc-1", "O", t0); err != nil {
		t.Fatalf("create: %v", err)
	}

	var buf bytes.Buffer
	r := NewReaper(store, NewMemoryRelay(store), time.Hour, time.Minute, slog.New(slog.NewTextHandler(&buf, nil)))
	r.Audit = rejectingAudit{}
	r.Now = func() time.Time { return t0.Add(2 * time.Hour) }

	ids, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 1 || ids[0] != "APT-old" {
		t.Fatalf("unexpected reaped ids %v", ids)
	}
	out := buf.String()
	if !strings.Contains(out, "audit append failed") || !strings.Contains(out, "level=WARN") || !strings.Contains(out, "appointment_id=APT-old") {
		t.Fatalf("expected audit warning in log, got %q", out)
	}
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	r := NewReaper(store, NewMemoryRelay(store), time.Hour, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reaper did not stop")
	}
}

func TestAuditAdapter_MapsKindsAndRole(t *testing.T) {
	repo := audit.NewMemoryRepo()
	adapter := AuditAdapter{Audit: audit.NewService(repo)}

	ctx := auth.WithIdentity(context.Background(), "doc-1", "doctor")
	ctx = audit.WithClientIP(ctx, "10.0.0.1")
	at := time.Unix(1700000000, 0).UTC()

	if err := adapter.LogSignalingEvent(ctx, AuditEvent{Kind: AuditInitiated, AppointmentID: "APT-42", ActorID: "doc-1", Operation: "initiate", At: at}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := adapter.LogSignalingEvent(ctx, AuditEvent{Kind: AuditDenied, AppointmentID: "APT-42", ActorID: "eve", Operation: "poll", At: at}); err != nil {
		t.Fatalf("log: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != audit.EventTypeCallInitiated || evs[0].ActorRole != "doctor" || evs[0].IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[1].Type != audit.EventTypeAccessDenied || evs[1].ActorUserID != "eve" || !evs[1].CreatedAt.Equal(at) {
		t.Fatalf("unexpected second event: %+v", evs[1])
	}

	if err := (AuditAdapter{}).LogSignalingEvent(ctx, AuditEvent{Kind: AuditClosed}); err != nil {
		t.Fatalf("nil audit service should be a no-op, got %v", err)
	}
}
