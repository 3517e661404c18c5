package appointments

import (
	"context"
	"errors"
)

// Gate answers the participant question for the signaling service.
// It reads through to the repository on every call; results are not cached.
type Gate struct {
	Repo Repository
}

func NewGate(repo Repository) *Gate { return &Gate{Repo: repo} }

// IsParticipant reports whether userID is the patient or doctor on the appointment.
// An unknown appointment is simply not participated in.
func (g *Gate) IsParticipant(ctx context.Context, appointmentID, userID string) (bool, error) {
	if g.Repo == nil {
		return false, errors.New("appointments: repository not configured")
	}
	if appointmentID == "" || userID == "" {
		return false, nil
	}
	a, err := g.Repo.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return a.HasParticipant(userID), nil
}

// AppointmentIDsFor returns the ids of every appointment userID takes part in.
func (g *Gate) AppointmentIDsFor(ctx context.Context, userID string) ([]string, error) {
	if g.Repo == nil {
		return nil, errors.New("appointments: repository not configured")
	}
	list, err := g.Repo.ListForParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids, nil
}
