package httpx

import (
	"net/http"
	"time"
)

type Middleware func(http.Handler) http.Handler

// Identity passes requests through untouched. Use it where a middleware is optional.
func Identity(next http.Handler) http.Handler { return next }

// Chain wraps h so that Chain(h, a, b) runs a, then b, then h.
func Chain(h http.Handler, m ...Middleware) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] != nil {
			h = m[i](h)
		}
	}
	return h
}

// WithBodyLimit caps request bodies; decoders see an error past limitBytes.
func WithBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithTimeout bounds the whole handler, cancelling its context and answering 503 with
// a JSON error body when d elapses.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return Identity
	}
	return func(next http.Handler) http.Handler {
		h := http.TimeoutHandler(next, d, `{"error":"timeout","message":"request timed out"}`)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			h.ServeHTTP(w, r)
		})
	}
}
