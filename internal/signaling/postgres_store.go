package signaling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telehealth-portal/pkg/utils"
)

// PostgresStore keeps call sessions in the call_sessions table
// (see migrations/0001_call_signaling.sql). Queries run through the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const sessionColumns = `appointment_id, caller_id, offer, answer, status, created_at, answered_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var (
		s          CallSession
		answer     sql.NullString
		answeredAt sql.NullTime
	)
	if err := row.Scan(&s.AppointmentID, &s.CallerID, &s.Offer, &answer, &s.Status, &s.CreatedAt, &answeredAt); err != nil {
		return CallSession{}, err
	}
	s.Answer = answer.String
	if answeredAt.Valid {
		t := answeredAt.Time
		s.AnsweredAt = &t
	}
	return s, nil
}

func (p *PostgresStore) Get(ctx context.Context, appointmentID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE appointment_id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, appointmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, fmt.Errorf("get call session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Create(ctx context.Context, appointmentID, callerID, offer string, now time.Time) (CallSession, error) {
	// The primary key makes this a single-key compare-and-set; an existing row is never replaced.
	// created_at doubles as the session generation, so keep it at the column's precision.
	now = now.Truncate(time.Microsecond)
	const q = `
INSERT INTO call_sessions (appointment_id, caller_id, offer, status, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (appointment_id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, appointmentID, callerID, offer, string(StatusOffered), now)
	if err != nil {
		return CallSession{}, fmt.Errorf("create call session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CallSession{}, fmt.Errorf("create call session: %w", err)
	}
	if n == 0 {
		return CallSession{}, ErrAlreadyExists
	}
	return CallSession{
		AppointmentID: appointmentID,
		CallerID:      callerID,
		Offer:         offer,
		Status:        StatusOffered,
		CreatedAt:     now,
	}, nil
}

func (p *PostgresStore) SetAnswer(ctx context.Context, appointmentID, answer string, now time.Time) (CallSession, error) {
	var out CallSession
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row so concurrent answers serialize on this session only.
		s, err := lockSession(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if s.Status == StatusConnected || s.Answer != "" {
			return ErrAlreadyAnswered
		}

		const q = `
UPDATE call_sessions
SET answer = $2, status = $3, answered_at = $4
WHERE appointment_id = $1
`
		if _, err := tx.ExecContext(ctx, q, appointmentID, answer, string(StatusConnected), now); err != nil {
			return fmt.Errorf("set answer: %w", err)
		}
		at := now
		s.Answer = answer
		s.Status = StatusConnected
		s.AnsweredAt = &at
		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func lockSession(ctx context.Context, tx *sql.Tx, appointmentID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE appointment_id = $1 FOR UPDATE`
	s, err := scanSession(tx.QueryRowContext(ctx, q, appointmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, fmt.Errorf("lock call session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) ListByAppointments(ctx context.Context, appointmentIDs []string) ([]CallSession, error) {
	out := make([]CallSession, 0, len(appointmentIDs))
	if len(appointmentIDs) == 0 {
		return out, nil
	}
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE appointment_id = ANY($1) ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, appointmentIDs)
	if err != nil {
		return nil, fmt.Errorf("list call sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list call sessions: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Delete(ctx context.Context, ref SessionRef) error {
	const q = `DELETE FROM call_sessions WHERE appointment_id = $1 AND created_at = $2`
	res, err := p.db.ExecContext(ctx, q, ref.AppointmentID, ref.at())
	if err != nil {
		return fmt.Errorf("delete call session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete call session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) ([]SessionRef, error) {
	const q = `DELETE FROM call_sessions WHERE created_at < $1 RETURNING appointment_id, created_at`
	rows, err := p.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reap call sessions: %w", err)
	}
	defer rows.Close()
	var refs []SessionRef
	for rows.Next() {
		var ref SessionRef
		if err := rows.Scan(&ref.AppointmentID, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaped session: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reap call sessions: %w", err)
	}
	return refs, nil
}
