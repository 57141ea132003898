package server

import (
	"net/http"

	"golang.org/x/time/rate"
)

type limiter struct {
	bucket *rate.Limiter
}

// newLimiter returns a shared token bucket. A non-positive rate disables limiting.
func newLimiter(perSecond float64, burst int) *limiter {
	if perSecond <= 0 {
		return &limiter{}
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.bucket != nil && !l.bucket.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
