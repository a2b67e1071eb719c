package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/lexguard/ratelimit"
)

// Limiter is the part of the engine RateLimit needs.
type Limiter interface {
	AllowRequest(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Decision, error)
}

// LimiterFunc adapts a function to [Limiter].
type LimiterFunc func(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Decision, error)

func (f LimiterFunc) AllowRequest(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Decision, error) {
	return f(ctx, identifier, limit, window)
}

// KeyFunc derives the rate-limit identifier for a request.
type KeyFunc func(r *http.Request) string

// Policy is one sliding-window limit. Name namespaces the identifiers so two
// policies keyed the same way do not share a window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
	Key    KeyFunc
}

// RateLimit admits at most p.Limit requests per identifier within p.Window.
// Rejected requests get 429 with Retry-After. When the limiter's store fails
// the limiter's fail-open setting decides; a closed failure is a 503.
func RateLimit(l Limiter, p Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	key := p.Key
	if key == nil {
		key = ByClientIP
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := strconv.Itoa(p.Limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			if p.Name != "" {
				id = p.Name + ":" + id
			}

			d, err := l.AllowRequest(r.Context(), id, p.Limit, p.Window)
			if err != nil {
				logger.Warn("http.ratelimit.fail",
					slog.String("policy", p.Name),
					slog.String("error", err.Error()),
				)
				if !d.Allowed {
					writeError(w, http.StatusServiceUnavailable, "rate_limit_unavailable", "rate limiting unavailable")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
				logger.Info("http.ratelimit.reject",
					slog.String("policy", p.Name),
					slog.String("path", r.URL.Path),
					slog.Duration("retry_after", d.RetryAfter),
				)
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// ByClientIP keys on the client address resolved by RequestContext, or on
// the connection address when RequestContext did not run.
func ByClientIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// BySessionUser keys on the session's user when Guard attached one and falls
// back to the client address.
func BySessionUser(r *http.Request) string {
	if sess, ok := SessionFromContext(r.Context()); ok {
		return "user:" + sess.UserID
	}
	return ByClientIP(r)
}
