package signaling

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PostgresRelay stores candidates in call_candidates, one row per envelope, tagged with
// the session generation they were sent into.
// DrainOpposite is a single DELETE ... RETURNING: concurrent drains of the same queue
// never return the same row, and rows inserted after the statement's snapshot survive.
type PostgresRelay struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRelay(db *sql.DB) *PostgresRelay { return &PostgresRelay{db: db, now: time.Now} }

func (p *PostgresRelay) Enqueue(ctx context.Context, ref SessionRef, dir Direction, candidate string) error {
	if !dir.Valid() {
		return ErrInvalid
	}
	const q = `
INSERT INTO call_candidates (id, appointment_id, session_created_at, direction, candidate, created_at)
SELECT $1::text, $2::text, $3::timestamptz, $4::text, $5::text, $6::timestamptz
WHERE EXISTS (
  SELECT 1 FROM call_sessions WHERE appointment_id = $2::text AND created_at = $3::timestamptz
)
`
	res, err := p.db.ExecContext(ctx, q, uuid.NewString(), ref.AppointmentID, ref.at(), string(dir), candidate, p.now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue candidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("enqueue candidate: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresRelay) DrainOpposite(ctx context.Context, ref SessionRef, requester Role) ([]CandidateEnvelope, error) {
	dir := requester.Inbound()
	const q = `
DELETE FROM call_candidates
WHERE appointment_id = $1 AND session_created_at = $2 AND direction = $3
RETURNING id, candidate, created_at
`
	rows, err := p.db.QueryContext(ctx, q, ref.AppointmentID, ref.at(), string(dir))
	if err != nil {
		return nil, fmt.Errorf("drain candidates: %w", err)
	}
	defer rows.Close()

	out := make([]CandidateEnvelope, 0)
	for rows.Next() {
		e := CandidateEnvelope{AppointmentID: ref.AppointmentID, Direction: dir}
		if err := rows.Scan(&e.ID, &e.Candidate, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drain candidates: %w", err)
	}
	// Order is not significant; keep it stable for clients anyway.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *PostgresRelay) Purge(ctx context.Context, ref SessionRef) error {
	const q = `DELETE FROM call_candidates WHERE appointment_id = $1 AND session_created_at = $2`
	if _, err := p.db.ExecContext(ctx, q, ref.AppointmentID, ref.at()); err != nil {
		return fmt.Errorf("purge candidates: %w", err)
	}
	return nil
}
