package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("appointments: not found")

// Repository is the read-only contract over the scheduling system.
type Repository interface {
	Get(ctx context.Context, appointmentID string) (Appointment, error)
	ListForParticipant(ctx context.Context, userID string) ([]Appointment, error)
}

// PostgresRepo reads the appointments table owned by the scheduling system.
//
// Expected table:
//
//	appointments(id TEXT PRIMARY KEY, patient_id TEXT NOT NULL, doctor_id TEXT NOT NULL, starts_at TIMESTAMPTZ NOT NULL)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, appointmentID string) (Appointment, error) {
	const q = `
SELECT id, patient_id, doctor_id, starts_at
FROM appointments
WHERE id = $1
`
	var a Appointment
	if err := r.db.QueryRowContext(ctx, q, appointmentID).Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartsAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *PostgresRepo) ListForParticipant(ctx context.Context, userID string) ([]Appointment, error) {
	const q = `
SELECT id, patient_id, doctor_id, starts_at
FROM appointments
WHERE patient_id = $1 OR doctor_id = $1
ORDER BY starts_at
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := make([]Appointment, 0)
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartsAt); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out, nil
}
