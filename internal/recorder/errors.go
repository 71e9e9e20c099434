package recorder

import "errors"

var (
	// ErrDeviceUnavailable is returned by Start when the capture device
	// cannot be acquired (missing hardware or denied permission).
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrInvalidTransition is returned when an operation is not a valid
	// edge from the controller's current state.
	ErrInvalidTransition = errors.New("invalid recorder transition")
)
