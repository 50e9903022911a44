package acquisition

import "time"

// WithNow sets the clock used to stamp readings.
func WithNow(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}
