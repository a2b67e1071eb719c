package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/access"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/session"
)

type sessionContextKey struct{}

// SessionFromContext returns the session Guard attached to the request.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok && sess != nil
}

// WithSession attaches sess to ctx the way Guard does.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// Guard enforces the engine's route policy. Public paths pass straight
// through. Allowed requests reach next with their session in the context.
func Guard(engine *lexguard.Engine) func(http.Handler) http.Handler {
	var (
		redirects lexguard.RedirectConfig
		logger    = slog.Default()
	)
	if engine != nil {
		redirects = engine.Config().Redirects
		logger = engine.Logger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusServiceUnavailable, "unavailable", "authorization is not configured")
				return
			}

			d, _, err := engine.Authorize(r)
			api := isAPIPath(redirects.APIPrefix, r.URL.Path)
			if err != nil {
				logger.Error("http.guard.fail",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				if api {
					writeError(w, http.StatusServiceUnavailable, "session_unavailable", "session service unavailable")
					return
				}
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			switch d.Outcome {
			case access.Allowed:
				if d.Session != nil {
					r = r.WithContext(WithSession(r.Context(), d.Session))
				}
				next.ServeHTTP(w, r)
			case access.Forbidden:
				if api {
					writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
					return
				}
				http.Redirect(w, r, redirects.UnauthorizedURL, http.StatusFound)
			default:
				if api {
					writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
					return
				}
				http.Redirect(w, r, signInLocation(redirects, r), http.StatusFound)
			}
		})
	}
}

// RequireRoles rejects requests whose session role is not in roles. With no
// roles it only requires a session. It must run behind Guard.
func RequireRoles(roles ...permission.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := SessionFromContext(r.Context())
			if _, err := access.RequireSession(sess, roles...); err != nil {
				writeAccessError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose role's bundle lacks capability.
func RequirePermission(engine *lexguard.Engine, capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if !engine.HasPermission(sess.Role, capability) {
				writeError(w, http.StatusForbidden, "forbidden", "missing capability")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAccessError(w http.ResponseWriter, err error) {
	if errors.Is(err, access.ErrForbidden) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
		return
	}
	writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
}

func isAPIPath(prefix, path string) bool {
	return prefix != "" && strings.HasPrefix(path, prefix)
}

func signInLocation(cfg lexguard.RedirectConfig, r *http.Request) string {
	q := url.Values{}
	q.Set(cfg.CallbackParam, r.URL.RequestURI())
	sep := "?"
	if strings.Contains(cfg.SignInURL, "?") {
		sep = "&"
	}
	return cfg.SignInURL + sep + q.Encode()
}
