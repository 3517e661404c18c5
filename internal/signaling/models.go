package signaling

import "time"

// CallSession is the mailbox record for one appointment's call attempt.
//
// Invariants:
// - AppointmentID is the primary key; at most one live session per appointment.
// - CallerID and Offer never change after creation.
// - Answer is set at most once, together with Status = connected.
type CallSession struct {
	AppointmentID string     `json:"appointment_id" db:"appointment_id"`
	CallerID      string     `json:"caller_id" db:"caller_id"`
	Offer         string     `json:"offer" db:"offer"`
	Answer        string     `json:"answer,omitempty" db:"answer"`
	Status        Status     `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty" db:"answered_at"`
}

// SessionRef names one generation of the session on an appointment. A closed and
// re-initiated call shares the appointment id but never the CreatedAt.
type SessionRef struct {
	AppointmentID string
	CreatedAt     time.Time
}

func (s CallSession) Ref() SessionRef {
	return SessionRef{AppointmentID: s.AppointmentID, CreatedAt: s.CreatedAt}
}

// Generation is CreatedAt at microsecond precision, the resolution Postgres keeps.
func (r SessionRef) Generation() int64 { return r.CreatedAt.UnixMicro() }

func (r SessionRef) at() time.Time { return time.UnixMicro(r.Generation()).UTC() }

func (r SessionRef) matches(s CallSession) bool {
	return s.AppointmentID == r.AppointmentID && s.CreatedAt.UnixMicro() == r.Generation()
}

type Status string

const (
	StatusOffered   Status = "offered"
	StatusConnected Status = "connected"
)

// Role is computed per request by comparing the identity to CallerID. It is never stored.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Direction tags which party wrote a candidate.
type Direction string

const (
	DirectionFromCaller Direction = "from_caller"
	DirectionFromCallee Direction = "from_callee"
)

// RoleOf returns the role identity plays in this session. Participation is checked elsewhere.
func (s CallSession) RoleOf(identity string) Role {
	if identity == s.CallerID {
		return RoleCaller
	}
	return RoleCallee
}

// Outbound is the queue a role writes into.
func (r Role) Outbound() Direction {
	if r == RoleCaller {
		return DirectionFromCaller
	}
	return DirectionFromCallee
}

// Inbound is the queue a role drains.
func (r Role) Inbound() Direction {
	if r == RoleCaller {
		return DirectionFromCallee
	}
	return DirectionFromCaller
}

func (d Direction) Valid() bool {
	return d == DirectionFromCaller || d == DirectionFromCallee
}

// CandidateEnvelope is one pending ICE candidate. It is delivered at most once.
type CandidateEnvelope struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	Direction     Direction `json:"direction"`
	Candidate     string    `json:"candidate"`
	CreatedAt     time.Time `json:"created_at"`
}

// Inbox is what a poll hands back.
type Inbox struct {
	Answer     string   `json:"answer,omitempty"`
	Candidates []string `json:"candidates"`
}

// IncomingCall is one entry of a ScanIncoming result.
type IncomingCall struct {
	AppointmentID string    `json:"appointment_id"`
	CallerID      string    `json:"caller_id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
