package signaling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"telehealth-portal/pkg/logger"
)

// ParticipantChecker is the authorization gate: is userID the patient or doctor on the appointment?
// The service does not cache or second-guess its answer.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, appointmentID, userID string) (bool, error)
}

// AuditLogger records internal-only audit events. Failures never fail an operation.
type AuditLogger interface {
	LogSignalingEvent(ctx context.Context, e AuditEvent) error
}

type AuditKind string

const (
	AuditInitiated AuditKind = "initiated"
	AuditAnswered  AuditKind = "answered"
	AuditClosed    AuditKind = "closed"
	AuditReaped    AuditKind = "reaped"
	AuditDenied    AuditKind = "denied"
)

type AuditEvent struct {
	Kind          AuditKind
	AppointmentID string
	ActorID       string
	Operation     string
	At            time.Time
}

const defaultMaxPayloadBytes = 64 << 10

// Service is the only component the two calling parties talk to.
//
// Every operation that names an appointment first checks the identity is a participant,
// and answers ErrForbidden before touching the session, so a non-participant cannot
// tell a live session from a missing one.
//
// Operations are single round trips to storage; none waits for the other party.
type Service struct {
	Store        SessionStore
	Relay        CandidateRelay
	Participants ParticipantChecker
	Audit        AuditLogger

	// MaxPayloadBytes caps offer/answer/candidate size. Zero means 64KiB.
	MaxPayloadBytes int

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func NewService(store SessionStore, relay CandidateRelay, participants ParticipantChecker) *Service {
	return &Service{Store: store, Relay: relay, Participants: participants, Now: time.Now}
}

// InitiateCall creates the session for appointmentID with callerID's offer.
// A second initiate on a live session returns ErrAlreadyInProgress and leaves it untouched.
func (s *Service) InitiateCall(ctx context.Context, appointmentID, callerID, offer string) (CallSession, error) {
	if err := s.authorize(ctx, "initiate", appointmentID, callerID); err != nil {
		return CallSession{}, err
	}
	if err := s.validatePayload(offer); err != nil {
		return CallSession{}, err
	}

	// CreatedAt is the session generation; queues of earlier sessions are never reused.
	sess, err := s.Store.Create(ctx, appointmentID, callerID, offer, s.now().Truncate(time.Microsecond))
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return CallSession{}, ErrAlreadyInProgress
		}
		return CallSession{}, fmt.Errorf("initiate call: %w", err)
	}

	s.audit(ctx, AuditInitiated, appointmentID, callerID, "initiate")
	logger.From(ctx).Info("call initiated", "appointment_id", appointmentID, "caller_id", callerID)
	return sess, nil
}

// AnswerCall records the callee's answer and moves the session to connected.
// The caller cannot answer their own call.
func (s *Service) AnswerCall(ctx context.Context, appointmentID, answererID, answer string) (CallSession, error) {
	if err := s.authorize(ctx, "answer", appointmentID, answererID); err != nil {
		return CallSession{}, err
	}
	if err := s.validatePayload(answer); err != nil {
		return CallSession{}, err
	}

	sess, err := s.Store.Get(ctx, appointmentID)
	if err != nil {
		return CallSession{}, storeErr("answer call", err)
	}
	// CallerID is immutable, so this check cannot race with the SetAnswer below.
	if sess.RoleOf(answererID) == RoleCaller {
		s.audit(ctx, AuditDenied, appointmentID, answererID, "answer_own_call")
		return CallSession{}, ErrForbidden
	}

	sess, err = s.Store.SetAnswer(ctx, appointmentID, answer, s.now())
	if err != nil {
		return CallSession{}, storeErr("answer call", err)
	}

	s.audit(ctx, AuditAnswered, appointmentID, answererID, "answer")
	logger.From(ctx).Info("call answered", "appointment_id", appointmentID, "callee_id", answererID)
	return sess, nil
}

// SubmitCandidate enqueues candidate into the sender's outbound queue.
// The direction is derived from the sender's identity, never from client input, and the
// enqueue is bound to the session generation that direction was derived from.
func (s *Service) SubmitCandidate(ctx context.Context, appointmentID, senderID, candidate string) error {
	if err := s.authorize(ctx, "candidate", appointmentID, senderID); err != nil {
		return err
	}
	if err := s.validatePayload(candidate); err != nil {
		return err
	}

	sess, err := s.Store.Get(ctx, appointmentID)
	if err != nil {
		return storeErr("submit candidate", err)
	}
	if err := s.Relay.Enqueue(ctx, sess.Ref(), sess.RoleOf(senderID).Outbound(), candidate); err != nil {
		return storeErr("submit candidate", err)
	}
	return nil
}

// PollInbox drains the opposite party's pending candidates. The caller also gets the
// answer whenever one exists; unlike candidates it is re-readable.
func (s *Service) PollInbox(ctx context.Context, appointmentID, requesterID string) (Inbox, error) {
	if err := s.authorize(ctx, "poll", appointmentID, requesterID); err != nil {
		return Inbox{}, err
	}

	sess, err := s.Store.Get(ctx, appointmentID)
	if err != nil {
		return Inbox{}, storeErr("poll inbox", err)
	}
	role := sess.RoleOf(requesterID)

	inbox := Inbox{Candidates: []string{}}
	if role == RoleCaller && sess.Answer != "" {
		inbox.Answer = sess.Answer
	}

	envs, err := s.Relay.DrainOpposite(ctx, sess.Ref(), role)
	if err != nil {
		return Inbox{}, storeErr("poll inbox", err)
	}
	for _, e := range envs {
		inbox.Candidates = append(inbox.Candidates, e.Candidate)
	}
	if len(envs) > 0 {
		logger.From(ctx).Debug("candidates delivered", "appointment_id", appointmentID, "role", string(role), "count", len(envs))
	}
	return inbox, nil
}

// ScanIncoming filters appointmentIDs down to those with a session started by someone
// other than requesterID.
//
// It performs no per-appointment authorization. Callers must only pass ids already
// scoped to the requester's own appointments; never expose it with a client-supplied list.
// Results may mix snapshots from slightly different times.
func (s *Service) ScanIncoming(ctx context.Context, appointmentIDs []string, requesterID string) ([]IncomingCall, error) {
	if requesterID == "" {
		return nil, ErrForbidden
	}
	ids := dedupe(appointmentIDs)
	out := make([]IncomingCall, 0)
	if len(ids) == 0 {
		return out, nil
	}

	sessions, err := s.Store.ListByAppointments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("scan incoming: %w", err)
	}
	for _, sess := range sessions {
		if sess.CallerID == requesterID {
			continue
		}
		out = append(out, IncomingCall{
			AppointmentID: sess.AppointmentID,
			CallerID:      sess.CallerID,
			Status:        sess.Status,
			CreatedAt:     sess.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CloseSession ends the call for both parties: the session and both queues are removed.
func (s *Service) CloseSession(ctx context.Context, appointmentID, requesterID string) error {
	if err := s.authorize(ctx, "close", appointmentID, requesterID); err != nil {
		return err
	}
	sess, err := s.Store.Get(ctx, appointmentID)
	if err != nil {
		return storeErr("close session", err)
	}
	// Only the generation read above is removed; a session re-initiated meanwhile survives.
	if err := s.Store.Delete(ctx, sess.Ref()); err != nil {
		return storeErr("close session", err)
	}
	// Queues also expire on their own, so a failed purge is not surfaced.
	if err := s.Relay.Purge(ctx, sess.Ref()); err != nil {
		logger.From(ctx).Warn("candidate purge failed", "appointment_id", appointmentID, "err", err)
	}

	s.audit(ctx, AuditClosed, appointmentID, requesterID, "close")
	logger.From(ctx).Info("call closed", "appointment_id", appointmentID, "closed_by", requesterID)
	return nil
}

func (s *Service) authorize(ctx context.Context, op, appointmentID, userID string) error {
	if appointmentID == "" || userID == "" {
		return ErrForbidden
	}
	if s.Participants == nil {
		return errors.New("signaling: participant checker not configured")
	}
	ok, err := s.Participants.IsParticipant(ctx, appointmentID, userID)
	if err != nil {
		return fmt.Errorf("participant check: %w", err)
	}
	if !ok {
		s.audit(ctx, AuditDenied, appointmentID, userID, op)
		logger.From(ctx).Warn("signaling access denied", "appointment_id", appointmentID, "user_id", userID, "op", op)
		return ErrForbidden
	}
	return nil
}

func (s *Service) validatePayload(p string) error {
	limit := s.MaxPayloadBytes
	if limit <= 0 {
		limit = defaultMaxPayloadBytes
	}
	if p == "" || len(p) > limit {
		return ErrInvalid
	}
	return nil
}

func (s *Service) audit(ctx context.Context, kind AuditKind, appointmentID, actorID, op string) {
	if s.Audit == nil {
		return
	}
	e := AuditEvent{Kind: kind, AppointmentID: appointmentID, ActorID: actorID, Operation: op, At: s.now()}
	if err := s.Audit.LogSignalingEvent(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "kind", string(kind), "err", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// storeErr passes the signaling sentinels through and wraps everything else.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyAnswered), errors.Is(err, ErrInvalid):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
