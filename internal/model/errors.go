package model

import "errors"

// Error taxonomy of the reservation engine.  Every error returned by the
// coordinator wraps exactly one of these so callers can branch with
// errors.Is and present a specific message.
var (
	// ErrValidation marks malformed or missing input, including a request
	// that asks for more than the item could ever hold.
	ErrValidation = errors.New("validation error")
	// ErrCapacityExceeded means the live allocations leave no room.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrItemUnavailable means the item is in maintenance or out of service.
	ErrItemUnavailable = errors.New("item unavailable")
	// ErrBlocked means the window overlaps an active block.
	ErrBlocked = errors.New("blocked")
	// ErrInvalidTransition is a state machine violation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound means a referenced item, request or allocation is missing.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller does not own the record.
	ErrForbidden = errors.New("forbidden")
)

// Code returns the stable machine-readable code for err, or "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return "internal"
}
