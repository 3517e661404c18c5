package signaling

import (
	"context"

	"telehealth-portal/internal/audit"
	"telehealth-portal/internal/auth"
)

// AuditAdapter bridges the service's audit hook to the shared audit.Service.
//
// This keeps signaling internals from depending on audit persistence.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogSignalingEvent(ctx context.Context, e AuditEvent) error {
	if a.Audit == nil {
		return nil
	}
	role, _ := auth.Role(ctx)
	return a.Audit.Append(ctx, audit.Event{
		AppointmentID: e.AppointmentID,
		Type:          auditEventType(e.Kind),
		ActorUserID:   e.ActorID,
		ActorRole:     role,
		Message:       "signaling " + e.Operation,
		CreatedAt:     e.At,
	})
}

func auditEventType(k AuditKind) audit.EventType {
	switch k {
	case AuditInitiated:
		return audit.EventTypeCallInitiated
	case AuditAnswered:
		return audit.EventTypeCallAnswered
	case AuditClosed:
		return audit.EventTypeCallClosed
	case AuditReaped:
		return audit.EventTypeCallReaped
	default:
		return audit.EventTypeAccessDenied
	}
}
