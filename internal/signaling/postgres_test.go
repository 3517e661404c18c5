package signaling

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
		_ = db.Close()
	})
	return db, mock
}

var sessionCols = []string{"appointment_id", "caller_id", "offer", "answer", "status", "created_at", "answered_at"}

func TestPostgresStore_CreateConflictIsAlreadyExists(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (appointment_id) DO NOTHING")).
		WithArgs("APT-42", "doc-1", "O1", "offered", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (appointment_id) DO NOTHING")).
		WithArgs("APT-42", "pat-7", "O2", "offered", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sess, err := store.Create(context.Background(), "APT-42", "doc-1", "O1", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Status != StatusOffered || sess.CallerID != "doc-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if _, err := store.Create(context.Background(), "APT-42", "pat-7", "O2", now); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM call_sessions WHERE appointment_id = $1")).
		WithArgs("APT-404").
		WillReturnRows(sqlmock.NewRows(sessionCols))

	if _, err := store.Get(context.Background(), "APT-404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_SetAnswer(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)
	created := time.Unix(1700000000, 0).UTC()
	now := created.Add(5 * time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("APT-42").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("APT-42", "doc-1", "O1", nil, "offered", created, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_sessions")).
		WithArgs("APT-42", "A1", "connected", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sess, err := store.SetAnswer(context.Background(), "APT-42", "A1", now)
	if err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if sess.Status != StatusConnected || sess.Answer != "A1" || sess.AnsweredAt == nil || !sess.AnsweredAt.Equal(now) {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestPostgresStore_SetAnswerTwiceRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)
	created := time.Unix(1700000000, 0).UTC()
	answered := created.Add(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("APT-42").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("APT-42", "doc-1", "O1", "A1", "connected", created, answered))
	mock.ExpectRollback()

	if _, err := store.SetAnswer(context.Background(), "APT-42", "A2", answered.Add(time.Second)); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
}

func TestPostgresStore_SetAnswerMissingSession(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("APT-404").
		WillReturnRows(sqlmock.NewRows(sessionCols))
	mock.ExpectRollback()

	if _, err := store.SetAnswer(context.Background(), "APT-404", "A1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_DeleteAndReap(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresStore(db)
	cutoff := time.Unix(1700000000, 0).UTC()

	stale := SessionRef{AppointmentID: "APT-42", CreatedAt: cutoff.Add(-time.Hour)}

	// A replaced generation matches no row.
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM call_sessions WHERE appointment_id = $1 AND created_at = $2")).
		WithArgs("APT-42", stale.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM call_sessions WHERE created_at < $1 RETURNING appointment_id, created_at")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"appointment_id", "created_at"}).
			AddRow("APT-1", cutoff.Add(-2*time.Hour)).
			AddRow("APT-2", cutoff.Add(-time.Minute)))

	if err := store.Delete(context.Background(), stale); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	refs, err := store.DeleteCreatedBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(refs) != 2 || refs[0].AppointmentID != "APT-1" || !refs[1].CreatedAt.Equal(cutoff.Add(-time.Minute)) {
		t.Fatalf("unexpected reaped refs %v", refs)
	}
}

func TestPostgresRelay_EnqueueRequiresLiveGeneration(t *testing.T) {
	db, mock := newMockDB(t)
	relay := NewPostgresRelay(db)
	now := time.Unix(1700000100, 0).UTC()
	relay.now = func() time.Time { return now }
	replaced := SessionRef{AppointmentID: "APT-42", CreatedAt: refAPT42.CreatedAt.Add(-time.Minute)}

	const insert = "AND created_at = $3::timestamptz"
	mock.ExpectExec(regexp.QuoteMeta(insert)).
		WithArgs(sqlmock.AnyArg(), "APT-42", refAPT42.CreatedAt, "from_callee", "C1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The session row now carries a different created_at, so nothing is inserted.
	mock.ExpectExec(regexp.QuoteMeta(insert)).
		WithArgs(sqlmock.AnyArg(), "APT-42", replaced.CreatedAt, "from_callee", "C1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := relay.Enqueue(context.Background(), refAPT42, DirectionFromCallee, "C1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := relay.Enqueue(context.Background(), replaced, DirectionFromCallee, "C1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRelay_DrainDeletesWhatItReturns(t *testing.T) {
	db, mock := newMockDB(t)
	relay := NewPostgresRelay(db)
	t0 := time.Unix(1700000000, 0).UTC()

	const drain = "WHERE appointment_id = $1 AND session_created_at = $2 AND direction = $3"
	mock.ExpectQuery(regexp.QuoteMeta(drain)).
		WithArgs("APT-42", refAPT42.CreatedAt, "from_callee").
		WillReturnRows(sqlmock.NewRows([]string{"id", "candidate", "created_at"}).
			AddRow("e2", "c2", t0.Add(time.Second)).
			AddRow("e1", "c1", t0))
	mock.ExpectQuery(regexp.QuoteMeta(drain)).
		WithArgs("APT-42", refAPT42.CreatedAt, "from_callee").
		WillReturnRows(sqlmock.NewRows([]string{"id", "candidate", "created_at"}))

	got, err := relay.DrainOpposite(context.Background(), refAPT42, RoleCaller)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 || got[0].Candidate != "c1" || got[1].Candidate != "c2" {
		t.Fatalf("unexpected drain: %+v", got)
	}

	again, err := relay.DrainOpposite(context.Background(), refAPT42, RoleCaller)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if again == nil || len(again) != 0 {
		t.Fatalf("expected empty non-nil drain, got %#v", again)
	}
}

func TestPostgresRelay_Purge(t *testing.T) {
	db, mock := newMockDB(t)
	relay := NewPostgresRelay(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM call_candidates WHERE appointment_id = $1 AND session_created_at = $2")).
		WithArgs("APT-42", refAPT42.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := relay.Purge(context.Background(), refAPT42); err != nil {
		t.Fatalf("purge: %v", err)
	}
}
