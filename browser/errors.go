package browser

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedKind   = errors.New("unsupported browser")
	ErrMalformedEndpoint = errors.New("malformed browser endpoint")
	ErrSessionExists     = errors.New("owner already has a browser session")

	// ErrNoActiveSession is matched by *NoActiveSessionError.
	ErrNoActiveSession = errors.New("no active browser session")
)

// ProvisioningError means a browser session could not be created.
type ProvisioningError struct {
	Kind     Kind
	Endpoint Endpoint
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("could not provision %s browser (%s): %s", e.Kind, e.Endpoint, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// NoActiveSessionError means an operation needed a session its owner does not have.
type NoActiveSessionError struct {
	Owner string
}

func (e *NoActiveSessionError) Error() string {
	return fmt.Sprintf("%s for %q", ErrNoActiveSession, e.Owner)
}

func (e *NoActiveSessionError) Is(target error) bool { return target == ErrNoActiveSession }
