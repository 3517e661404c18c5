package appointments

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Appointment
}

func NewMemoryRepo(seed ...Appointment) *MemoryRepo {
	r := &MemoryRepo{byID: make(map[string]Appointment, len(seed))}
	for _, a := range seed {
		r.byID[a.ID] = a
	}
	return r
}

func (r *MemoryRepo) Put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = a
}

func (r *MemoryRepo) Get(_ context.Context, appointmentID string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[appointmentID]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) ListForParticipant(_ context.Context, userID string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Appointment, 0)
	for _, a := range r.byID {
		if a.HasParticipant(userID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}
