package domain

import "errors"

var (
	// ErrUnauthorized is returned when the caller is unknown or lacks the lecturer role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuestionNotFound indicates a question id does not exist.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidInput marks malformed or inconsistent requests; nothing was written.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState indicates the request conflicts with the session's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrEndOfSession signals there is no question after the active one.
	ErrEndOfSession = errors.New("end of session")
)

// IsNotFound reports whether err refers to a missing session or question.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrQuestionNotFound)
}
