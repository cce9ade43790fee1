package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// KeyFunc derives the limiter key of a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over the limit with 429. onLimited, when set,
// is called for every rejected request.
func Middleware(l Limiter, retryAfter time.Duration, key KeyFunc, onLimited func(r *http.Request)) func(http.Handler) http.Handler {
	seconds := strconv.Itoa(max(1, int(retryAfter.Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || l.Allow(r.Context(), k) {
				next.ServeHTTP(w, r)
				return
			}
			if onLimited != nil {
				onLimited(r)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", seconds)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded, please slow down","code":"rate_limited","retryable":true}` + "\n"))
		})
	}
}
