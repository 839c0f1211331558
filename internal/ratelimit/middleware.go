package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/tombolo/tombolo/internal/pkg/httputil"
)

// Middleware throttles requests under the given limit class, keyed by
// client IP. Expects to run after chi's RealIP middleware. Denied
// requests get a 429 with standard rate limit headers and a
// human-readable message carrying a concrete retry time.
func Middleware(limiter *Limiter, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Check(r.Context(), clientIP(r), cfg)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				httputil.JSON(w, http.StatusTooManyRequests, map[string]any{
					"error": map[string]any{
						"message":     fmt.Sprintf("Too many requests. Please try again in %d seconds.", decision.RetryAfter),
						"retry_after": decision.RetryAfter,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's remote IP without the port. RealIP
// middleware has already substituted forwarded addresses.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
