package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CandidateRelay holds two consume-and-delete queues per session generation.
//
// Delivery is at-most-once: DrainOpposite deletes exactly what it returns, in the same
// atomic step. If the response carrying those candidates is lost they are gone. ICE
// gathers redundant candidates, so the relay does not acknowledge or redeliver.
//
// Queues are keyed by SessionRef, not appointment id alone, so a late enqueue for a
// closed session can never surface in a newer session on the same appointment.
type CandidateRelay interface {
	Enqueue(ctx context.Context, ref SessionRef, dir Direction, candidate string) error
	// DrainOpposite returns and removes every envelope pending for requester.
	// An empty result is not an error.
	DrainOpposite(ctx context.Context, ref SessionRef, requester Role) ([]CandidateEnvelope, error)
	// Purge drops both queues of one session generation.
	Purge(ctx context.Context, ref SessionRef) error
}

// SessionExister lets a relay reject enqueues for unknown sessions.
type SessionExister interface {
	Get(ctx context.Context, appointmentID string) (CallSession, error)
}

// MemoryRelay is a mutex-guarded CandidateRelay for tests and local runs.
type MemoryRelay struct {
	// Sessions is optional; when set, Enqueue returns ErrNotFound unless the referenced
	// generation is still the live session.
	Sessions SessionExister
	Now      func() time.Time

	mu     sync.Mutex
	queues map[queueKey][]CandidateEnvelope
}

type queueKey struct {
	appointmentID string
	generation    int64
	dir           Direction
}

func keyFor(ref SessionRef, dir Direction) queueKey {
	return queueKey{appointmentID: ref.AppointmentID, generation: ref.Generation(), dir: dir}
}

func NewMemoryRelay(sessions SessionExister) *MemoryRelay {
	return &MemoryRelay{Sessions: sessions, Now: time.Now, queues: make(map[queueKey][]CandidateEnvelope)}
}

func (r *MemoryRelay) Enqueue(ctx context.Context, ref SessionRef, dir Direction, candidate string) error {
	if !dir.Valid() {
		return ErrInvalid
	}
	if r.Sessions != nil {
		sess, err := r.Sessions.Get(ctx, ref.AppointmentID)
		if err != nil {
			return err
		}
		if !ref.matches(sess) {
			return ErrNotFound
		}
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	env := CandidateEnvelope{
		ID:            uuid.NewString(),
		AppointmentID: ref.AppointmentID,
		Direction:     dir,
		Candidate:     candidate,
		CreatedAt:     now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyFor(ref, dir)
	r.queues[k] = append(r.queues[k], env)
	return nil
}

func (r *MemoryRelay) DrainOpposite(_ context.Context, ref SessionRef, requester Role) ([]CandidateEnvelope, error) {
	k := keyFor(ref, requester.Inbound())

	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queues[k]
	delete(r.queues, k)
	if out == nil {
		out = []CandidateEnvelope{}
	}
	return out, nil
}

func (r *MemoryRelay) Purge(_ context.Context, ref SessionRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, keyFor(ref, DirectionFromCaller))
	delete(r.queues, keyFor(ref, DirectionFromCallee))
	return nil
}
