package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// IsCareParticipantRole reports whether the role can appear on an appointment.
func IsCareParticipantRole(role string) bool { return role == RolePatient || role == RoleDoctor }
