package domain

import "errors"

// Domain errors. Client-facing messages stay terse on purpose: the
// responses must not reveal which detection heuristic fired.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthenticated     = errors.New("no active session")
	ErrSessionExpired      = errors.New("session expired")
	ErrPaymentRequired     = errors.New("payment required to continue")
	ErrDeviceMismatch      = errors.New("game must be completed on the same device")
	ErrSessionHijack       = errors.New("session validation failed")
	ErrCrossDevice         = errors.New("session validation failed")
	ErrGameNotFound        = errors.New("game not found")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrRoundNotFound       = errors.New("round not found")
	ErrNoOpenSlot          = errors.New("no question pending")
	ErrAnswerTimeout       = errors.New("answer time limit exceeded")
	ErrFraudSuspected      = errors.New("submission rejected")
	ErrGameOver            = errors.New("game already finished")
	ErrInternal            = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrGameNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrParticipantNotFound) ||
		errors.Is(err, ErrRoundNotFound)
}

// IsForbiddenError checks if an error is a continuity violation
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrDeviceMismatch) ||
		errors.Is(err, ErrSessionHijack) ||
		errors.Is(err, ErrCrossDevice)
}

// IsTerminalError checks if an error reports a terminal game outcome
func IsTerminalError(err error) bool {
	return errors.Is(err, ErrAnswerTimeout) ||
		errors.Is(err, ErrFraudSuspected) ||
		errors.Is(err, ErrGameOver)
}
