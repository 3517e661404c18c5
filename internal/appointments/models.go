package appointments

import "time"

// Appointment is the slice of the scheduling record the call relay consumes.
// The scheduling system owns these rows; this service never writes them.
type Appointment struct {
	ID        string    `json:"id" db:"id"`
	PatientID string    `json:"patient_id" db:"patient_id"`
	DoctorID  string    `json:"doctor_id" db:"doctor_id"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
}

// HasParticipant reports whether userID is the patient or the doctor.
func (a Appointment) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return a.PatientID == userID || a.DoctorID == userID
}
