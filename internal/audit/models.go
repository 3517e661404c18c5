package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - appointment_id is required; every signaling action is scoped to one appointment.
// - actor and ip capture are best-effort; do not block signaling flows on audit failures.
//
// This is an access audit, not call history: it records who changed or was denied
// access to a call session, never offers, answers or candidates.
type Event struct {
	ID            string `json:"id" db:"id"`
	AppointmentID string `json:"appointment_id" db:"appointment_id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress should capture the original client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallInitiated EventType = "call_initiated"
	EventTypeCallAnswered  EventType = "call_answered"
	EventTypeCallClosed    EventType = "call_closed"
	EventTypeCallReaped    EventType = "call_reaped"
	EventTypeAccessDenied  EventType = "access_denied"
)
