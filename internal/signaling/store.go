package signaling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SessionStore is durable keyed storage of call sessions.
//
// Create and SetAnswer must each be atomic with respect to concurrent calls on the
// same appointment; no cross-session locking is required.
type SessionStore interface {
	Get(ctx context.Context, appointmentID string) (CallSession, error)
	// Create returns ErrAlreadyExists instead of overwriting.
	Create(ctx context.Context, appointmentID, callerID, offer string, now time.Time) (CallSession, error)
	// SetAnswer sets answer and status together. Returns ErrNotFound or ErrAlreadyAnswered.
	SetAnswer(ctx context.Context, appointmentID, answer string, now time.Time) (CallSession, error)

	ListByAppointments(ctx context.Context, appointmentIDs []string) ([]CallSession, error)
	// Delete removes exactly the referenced generation. Returns ErrNotFound if it is gone
	// or was replaced.
	Delete(ctx context.Context, ref SessionRef) error
	// DeleteCreatedBefore removes sessions older than cutoff and returns what it removed.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) ([]SessionRef, error)
}

// MemoryStore is a mutex-guarded SessionStore for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]CallSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]CallSession)}
}

func (s *MemoryStore) Get(_ context.Context, appointmentID string) (CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[appointmentID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Create(_ context.Context, appointmentID, callerID, offer string, now time.Time) (CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[appointmentID]; ok {
		return CallSession{}, ErrAlreadyExists
	}
	sess := CallSession{
		AppointmentID: appointmentID,
		CallerID:      callerID,
		Offer:         offer,
		Status:        StatusOffered,
		CreatedAt:     now,
	}
	s.sessions[appointmentID] = sess
	return sess, nil
}

func (s *MemoryStore) SetAnswer(_ context.Context, appointmentID, answer string, now time.Time) (CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[appointmentID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	if sess.Status == StatusConnected || sess.Answer != "" {
		return CallSession{}, ErrAlreadyAnswered
	}
	at := now
	sess.Answer = answer
	sess.Status = StatusConnected
	sess.AnsweredAt = &at
	s.sessions[appointmentID] = sess
	return sess, nil
}

func (s *MemoryStore) ListByAppointments(_ context.Context, appointmentIDs []string) ([]CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallSession, 0, len(appointmentIDs))
	for _, id := range appointmentIDs {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, ref SessionRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[ref.AppointmentID]
	if !ok || !ref.matches(sess) {
		return ErrNotFound
	}
	delete(s.sessions, ref.AppointmentID)
	return nil
}

func (s *MemoryStore) DeleteCreatedBefore(_ context.Context, cutoff time.Time) ([]SessionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []SessionRef
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			refs = append(refs, sess.Ref())
			delete(s.sessions, id)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].AppointmentID < refs[j].AppointmentID })
	return refs, nil
}
