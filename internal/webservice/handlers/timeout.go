package handlers

import (
	"net/http"
	"time"
)

// timeoutBody is the encoded failure envelope sent when a request runs out of time.
const timeoutBody = `{"success":false,"message":"request timed out","data":null}` + "\n"

// Timeout answers 503 with a failure envelope when next does not complete within d.
// The request context passed to next is cancelled at the deadline.
func Timeout(d time.Duration, next http.Handler) http.Handler {
	th := http.TimeoutHandler(next, d, timeoutBody)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Headers set by next replace this one on completion.
		w.Header().Set("Content-Type", "application/json")
		th.ServeHTTP(w, r)
	})
}
