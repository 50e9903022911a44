package readings

import "errors"

var (
	// ErrInvalidInput is returned when a request is malformed or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a well formed request targets a reading that does not exist.
	ErrNotFound = errors.New("reading not found")

	// ErrForbidden is returned when the device is not allowed to submit readings.
	ErrForbidden = errors.New("device not allowed")
)
