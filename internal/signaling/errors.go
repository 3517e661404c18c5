package signaling

import "errors"

var (
	// ErrForbidden covers non-participants and role violations. It is returned before
	// any session lookup so it never reveals whether a session exists.
	ErrForbidden = errors.New("signaling: forbidden")
	ErrNotFound  = errors.New("signaling: session not found")

	ErrAlreadyInProgress = errors.New("signaling: call already in progress")
	ErrAlreadyAnswered   = errors.New("signaling: call already answered")

	// ErrInvalid is returned for empty or oversized payloads.
	ErrInvalid = errors.New("signaling: invalid payload")

	// ErrAlreadyExists is the store-level conflict on Create.
	ErrAlreadyExists = errors.New("signaling: session already exists")
)
