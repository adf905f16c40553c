package session

import "errors"

var (
	// ErrEmptyMessage rejects blank or whitespace-only input before any side
	// effect occurs.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrInsufficientCredit blocks a new turn when the balance cannot cover
	// it. It is never raised retroactively against an already-shown reply.
	ErrInsufficientCredit = errors.New("insufficient credits")

	// ErrTurnInFlight rejects a second send while one is still dispatching.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrNothingHeard means the clip transcribed successfully to silence.
	ErrNothingHeard = errors.New("could not understand audio")
)
