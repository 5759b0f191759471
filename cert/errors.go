package cert

import "errors"

var (
	// ErrNotFound is returned when the referenced certificate or rotation
	// record does not exist.
	ErrNotFound = errors.New("certificate not found")
	// ErrInvalidState is returned when an operation is attempted against a
	// certificate or rotation whose current state does not permit it.
	ErrInvalidState = errors.New("invalid certificate state")
	// ErrActiveExists is returned when activation would violate the
	// one-active-certificate invariant for an (organisation, environment).
	ErrActiveExists = errors.New("another certificate is already active")
	// ErrRotationInFlight is returned when a renewal is requested for a
	// certificate that already has an unfinished rotation.
	ErrRotationInFlight = errors.New("rotation already in progress")
)
