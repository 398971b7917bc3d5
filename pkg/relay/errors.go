package relay

import "errors"

var (
	// ErrDuplicateParticipant indicates the identifier is already registered
	ErrDuplicateParticipant = errors.New("participant identifier already in use")

	// ErrNotRegistered indicates the participant has not registered yet
	ErrNotRegistered = errors.New("participant is not registered")

	// ErrNotFound indicates no channel is registered for the identifier
	ErrNotFound = errors.New("participant not found")
)
