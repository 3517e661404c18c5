package signaling

import (
	"context"
	"log/slog"
	"time"
)

// Reaper evicts sessions older than MaxAge and purges their queues.
//
// Call sessions have no natural end signal from the clients, so without this they
// would accumulate indefinitely.
type Reaper struct {
	Store    SessionStore
	Relay    CandidateRelay
	Audit    AuditLogger
	MaxAge   time.Duration
	Interval time.Duration
	Log      *slog.Logger
	Now      func() time.Time
}

func NewReaper(store SessionStore, relay CandidateRelay, maxAge, interval time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{Store: store, Relay: relay, MaxAge: maxAge, Interval: interval, Log: log, Now: time.Now}
}

// Sweep runs one eviction pass and returns the reaped appointment ids.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	at := now().UTC()
	refs, err := r.Store.DeleteCreatedBefore(ctx, at.Add(-r.MaxAge))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.AppointmentID)
		if err := r.Relay.Purge(ctx, ref); err != nil {
			r.log().Warn("reaper purge failed", "appointment_id", ref.AppointmentID, "err", err)
		}
		if r.Audit == nil {
			continue
		}
		e := AuditEvent{Kind: AuditReaped, AppointmentID: ref.AppointmentID, Operation: "reap", At: at}
		if err := r.Audit.LogSignalingEvent(ctx, e); err != nil {
			r.log().Warn("audit append failed", "kind", string(AuditReaped), "appointment_id", ref.AppointmentID, "err", err)
		}
	}
	if len(ids) > 0 {
		r.log().Info("stale call sessions reaped", "count", len(ids))
	}
	return ids, nil
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log().Error("reaper sweep failed", "err", err)
			}
		}
	}
}

func (r *Reaper) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}
