package readings

import "time"

// WithClock overrides the time source of the service.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}
