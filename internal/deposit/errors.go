package deposit

import "errors"

// Retryable signals. The confirmation job maps these to a retry so the
// scheduler re-invokes later; they are expected states, not faults.
var (
	ErrNoMatchYet            = errors.New("no matching transfer yet")
	ErrAwaitingConfirmations = errors.New("awaiting confirmations")
)

// Terminal and validation failures.
var (
	ErrSessionExpired   = errors.New("deposit session expired")
	ErrUnsupportedToken = errors.New("unsupported token")
	ErrInvalidAmount    = errors.New("invalid expected amount")
)
