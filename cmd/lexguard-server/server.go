package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/metrics/export/prometheus"
	"github.com/MrEthical07/lexguard/middleware"
	"github.com/MrEthical07/lexguard/permission"
)

const maxSignInBody = 4 << 10

// signInPolicy caps credential attempts per client address on top of the
// engine's per-email throttle.
var signInPolicy = middleware.Policy{Name: "signin", Limit: 20, Window: time.Minute, Key: middleware.ByClientIP}

type server struct {
	engine  *lexguard.Engine
	logger  *slog.Logger
	trusted []netip.Prefix
}

// routes builds the full handler chain: request context, logging, hardening
// headers, API rate limiting and the route guard.
func (s *server) routes() http.Handler {
	cfg := s.engine.Config()

	app := http.NewServeMux()
	signIn := middleware.RateLimit(s.engine, signInPolicy, s.logger)(http.HandlerFunc(s.handleSignIn))
	app.Handle("POST /api/auth/signin", signIn)
	app.HandleFunc("POST /api/auth/signout", s.handleSignOut)
	app.HandleFunc("GET /api/session", s.handleSession)
	app.HandleFunc("GET /api/permissions", s.handlePermissions)
	app.HandleFunc("GET /auth/signin", s.handleSignInPage)
	app.HandleFunc("GET /unauthorized", s.handleUnauthorizedPage)
	app.HandleFunc("GET /dashboard/", s.handleArea("Lawyer dashboard"))
	app.HandleFunc("GET /client/", s.handleArea("Client portal"))
	app.HandleFunc("GET /admin/", s.handleArea("Administration"))

	apiLimit := middleware.RateLimit(s.engine, middleware.Policy{
		Name:   "api",
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
		Key:    s.apiKey,
	}, s.logger)

	guarded := middleware.Guard(s.engine)(app)
	limited := apiLimit(guarded)

	root := http.NewServeMux()
	root.Handle("GET /metrics", prometheus.NewPrometheusExporter(s.engine).Handler())
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, cfg.Redirects.APIPrefix) {
			limited.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	}))

	return middleware.Chain(
		middleware.RequestContext(s.trusted),
		middleware.Logging(s.logger),
		middleware.SecurityHeaders,
	)(root)
}

// apiKey keys API traffic on the caller's user. The limiter runs ahead of
// Guard, so the session is resolved here rather than read from the context.
// Anonymous callers and session lookup failures fall back to the client address.
func (s *server) apiKey(r *http.Request) string {
	if _, ok := middleware.SessionFromContext(r.Context()); ok {
		return middleware.BySessionUser(r)
	}
	sess, err := s.engine.ResolveSession(r)
	if err != nil || sess == nil {
		return middleware.ByClientIP(r)
	}
	return "user:" + sess.UserID
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role"`
}

func (s *server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignInBody)).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed body")
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxSignInBody)
		if err := r.ParseForm(); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form")
			return
		}
		req.Email, req.Password = r.PostForm.Get("email"), r.PostForm.Get("password")
	}

	res, err := s.engine.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		status, code := signInStatus(err)
		middleware.WriteError(w, status, code, http.StatusText(status))
		return
	}

	http.SetCookie(w, s.engine.SessionCookie(res))
	middleware.WriteJSON(w, http.StatusOK, signInResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.UTC(),
		Role:      res.Session.Role.String(),
	})
}

func signInStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lexguard.ErrInvalidCredentials), errors.Is(err, lexguard.ErrAccountRoleInvalid):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, lexguard.ErrSignInRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusServiceUnavailable, "unavailable"
	}
}

func (s *server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.ResolveSession(r)
	if err != nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "session_unavailable", "session service unavailable")
		return
	}
	if sess != nil {
		if err := s.engine.SignOut(r.Context(), sess.ID); err != nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "session_unavailable", "session service unavailable")
			return
		}
	}
	http.SetCookie(w, s.engine.ClearSessionCookie())
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	UserID       string    `json:"userId"`
	Role         string    `json:"role"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Capabilities []string  `json:"capabilities"`
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		UserID:       sess.UserID,
		Role:         sess.Role.String(),
		ExpiresAt:    time.Unix(sess.ExpiresAt, 0).UTC(),
		Capabilities: s.engine.Capabilities(sess.Role),
	})
}

func (s *server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	capability := strings.TrimSpace(r.URL.Query().Get("capability"))
	if capability == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "capability is required")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"capability": capability,
		"role":       sess.Role.String(),
		"allowed":    s.engine.HasPermission(sess.Role, capability),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := http.StatusOK
	if !h.RedisAvailable || !h.RateLimitAvailable {
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, map[string]any{
		"redis":        h.RedisAvailable,
		"redisLatency": h.RedisLatency.String(),
		"rateLimit":    h.RateLimitAvailable,
	})
}

var signInPage = template.Must(template.New("signin").Parse(`<!doctype html>
<title>Sign in</title>
<form method="post" action="/api/auth/signin">
<input type="hidden" name="{{.Param}}" value="{{.Callback}}">
<label>Email <input name="email" type="email" autocomplete="username"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
`))

func (s *server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	param := s.engine.Config().Redirects.CallbackParam
	callback := r.URL.Query().Get(param)
	if !strings.HasPrefix(callback, "/") || strings.HasPrefix(callback, "//") {
		callback = "/"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = signInPage.Execute(w, struct{ Param, Callback string }{param, callback})
}

func (s *server) handleUnauthorizedPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = fmt.Fprintln(w, "Your account does not have access to that page.")
}

func (s *server) handleArea(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "%s\nsigned in as %s (%s)\n", title, sess.UserID, sess.Role)
		for _, c := range []string{permission.VideoCalls, permission.UploadDocuments, permission.ViewInvoices} {
			_, _ = fmt.Fprintf(w, "%s: %t\n", c, s.engine.HasPermission(sess.Role, c))
		}
	}
}
