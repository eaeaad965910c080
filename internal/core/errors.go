package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotFound           = "not_found"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInvalidInput       = "invalid_input"
	ErrCodeBlocked            = "blocked"
	ErrCodeTargetNotFound     = "target_not_found"
	ErrCodeSelfRemoval        = "self_removal_denied"
	ErrCodeTargetNotInRoom    = "target_not_in_room"
	ErrCodeCreatorCannotLeave = "creator_cannot_leave"
	ErrCodeUnknownAction      = "unknown_action"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInternal           = "internal"
)

var (
	// ErrSlowConsumer is returned by Deliver when the session's outbound buffer is full.
	// The session is disconnected.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrSessionClosed is returned when delivering to or acting on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrRemoved is the close reason of a session whose user left or was removed from the room.
	ErrRemoved = errors.New("removed from room")

	errBadState = errors.New("invalid session state")
)

// CoreError wraps a code and human-readable message.
// It is reported to the originating session only and never ends it.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// AsCoreError extracts a CoreError from err.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// InvalidInput builds the error used for malformed payloads.
func InvalidInput(msg string) *CoreError {
	return coreError(ErrCodeInvalidInput, msg)
}

// UnknownAction builds the error used for unsupported actions.
func UnknownAction(action string) *CoreError {
	return coreError(ErrCodeUnknownAction, "unknown action: "+action)
}
