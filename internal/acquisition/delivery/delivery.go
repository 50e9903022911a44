// Package delivery sends readings produced by the acquisition loop to their destinations.
package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionRefused is returned when nothing listens at the destination.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrTimeout is returned when the destination did not answer in time.
	ErrTimeout = errors.New("delivery timed out")
	// ErrTransport is returned for any other failure to reach the destination.
	ErrTransport = errors.New("transport failure")
)

// StatusError is returned when the API answered with a non 2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
