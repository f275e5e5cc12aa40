package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies input/config/payload validation failures.
	ErrValidation = errors.New("jobs validation error")
	// ErrNotFound classifies missing logical resources (for example missing lease).
	ErrNotFound = errors.New("jobs not found")
	// ErrNotInitialized classifies missing runtime/backend initialization.
	ErrNotInitialized = errors.New("jobs not initialized")
	// ErrClosed classifies operations on an already closed backend.
	ErrClosed = errors.New("jobs closed")
	// ErrPreconditionFailed classifies enqueue preconditions that did not hold.
	ErrPreconditionFailed = errors.New("jobs precondition failed")
	// ErrHandlerNotRegistered classifies jobs whose handler name is unknown.
	ErrHandlerNotRegistered = errors.New("jobs handler not registered")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
