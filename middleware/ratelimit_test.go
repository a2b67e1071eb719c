package middleware_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/middleware"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/MrEthical07/lexguard/session"
)

func TestRateLimitRejectsOverLimit(t *testing.T) {
	engine, _ := newTestEngine(t)
	h := middleware.RateLimit(engine, middleware.Policy{
		Name:   "api",
		Limit:  2,
		Window: time.Minute,
	}, nil)(okHandler)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		r.RemoteAddr = "192.0.2.10:5555"
		return r
	}

	for i := 0; i < 2; i++ {
		rec := serve(h, req())
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	rec := serve(h, req())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining header = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if ra := rec.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Fatalf("Retry-After = %q", ra)
	}
	if body := decodeError(t, rec); body.Error.Code != "rate_limited" {
		t.Fatalf("code = %q", body.Error.Code)
	}

	other := req()
	other.RemoteAddr = "192.0.2.11:5555"
	if rec := serve(h, other); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d", rec.Code)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	l := middleware.LimiterFunc(func(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
		return ratelimit.Decision{Allowed: false, Limit: 1, RetryAfter: 1500 * time.Millisecond}, nil
	})
	rec := serve(middleware.RateLimit(l, middleware.Policy{Limit: 1, Window: time.Second}, nil)(okHandler),
		httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}

	l = middleware.LimiterFunc(func(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
		return ratelimit.Decision{Allowed: false, Limit: 1, RetryAfter: 10 * time.Millisecond}, nil
	})
	rec = serve(middleware.RateLimit(l, middleware.Policy{Limit: 1, Window: time.Second}, nil)(okHandler),
		httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want 1", got)
	}
}

func TestRateLimitStoreFailure(t *testing.T) {
	closed := middleware.LimiterFunc(func(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
		return ratelimit.Decision{}, lexguard.ErrRateLimitUnavailable
	})
	open := middleware.LimiterFunc(func(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
		return ratelimit.Decision{Allowed: true}, lexguard.ErrRateLimitUnavailable
	})
	policy := middleware.Policy{Limit: 1, Window: time.Second}

	rec := serve(middleware.RateLimit(closed, policy, nil)(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("fail-closed status = %d", rec.Code)
	}
	rec = serve(middleware.RateLimit(open, policy, nil)(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fail-open status = %d", rec.Code)
	}
}

func TestPolicyNamespacesIdentifiers(t *testing.T) {
	var seen []string
	l := middleware.LimiterFunc(func(_ context.Context, id string, _ int, _ time.Duration) (ratelimit.Decision, error) {
		seen = append(seen, id)
		return ratelimit.Decision{Allowed: true, Limit: 1, Remaining: 1}, nil
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1:80"
	serve(middleware.RateLimit(l, middleware.Policy{Name: "signin", Limit: 1, Window: time.Second}, nil)(okHandler), r)

	r = r.WithContext(middleware.WithSession(r.Context(), &session.Session{ID: "s", UserID: "u9", Role: permission.RoleClient}))
	serve(middleware.RateLimit(l, middleware.Policy{Name: "api", Limit: 1, Window: time.Second, Key: middleware.BySessionUser}, nil)(okHandler), r)

	want := []string{"signin:ip:198.51.100.1", "api:user:u9"}
	if len(seen) != len(want) {
		t.Fatalf("identifiers = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("identifier %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestRequestContextClientIP(t *testing.T) {
	trusted, err := middleware.ParseTrustedProxies("10.0.0.0/8", "127.0.0.1")
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct client", "203.0.113.5:1234", "", "", "203.0.113.5"},
		{"untrusted proxy header ignored", "203.0.113.5:1234", "1.2.3.4", "", "203.0.113.5"},
		{"trusted proxy hop skipped", "10.1.2.3:80", "198.51.100.9, 10.1.2.3", "", "198.51.100.9"},
		{"client supplied entry ignored", "10.0.0.1:80", "6.6.6.6, 198.51.100.9", "", "198.51.100.9"},
		{"all hops trusted", "10.0.0.1:80", "10.9.9.9, 10.0.0.2", "", "10.9.9.9"},
		{"junk left of client ignored", "10.0.0.1:80", "garbage, 198.51.100.9", "", "198.51.100.9"},
		{"trusted proxy real ip", "127.0.0.1:80", "", "198.51.100.8", "198.51.100.8"},
		{"trusted proxy junk header", "10.1.2.3:80", "not-an-ip", "", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, id string
			h := middleware.RequestContext(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = lexguard.ClientIPFromContext(r.Context())
				id = lexguard.RequestIDFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			rec := serve(h, r)
			if got != tt.want {
				t.Fatalf("client ip = %q, want %q", got, tt.want)
			}
			if id == "" || rec.Header().Get("X-Request-ID") != id {
				t.Fatalf("request id = %q, header = %q", id, rec.Header().Get("X-Request-ID"))
			}
		})
	}
}

func TestForwardedForCannotRotateIdentity(t *testing.T) {
	engine, _ := newTestEngine(t)
	trusted, err := middleware.ParseTrustedProxies("10.0.0.0/8")
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	h := middleware.Chain(
		middleware.RequestContext(trusted),
		middleware.RateLimit(engine, middleware.Policy{Name: "api", Limit: 2, Window: time.Minute}, nil),
	)(okHandler)

	admitted := 0
	for i := 0; i < 10; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("6.6.6.%d, 198.51.100.9", i))
		if serve(h, r).Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 2 {
		t.Fatalf("admitted %d of 10 with limit 2", admitted)
	}
}

func TestRequestContextKeepsValidRequestID(t *testing.T) {
	var id string
	h := middleware.RequestContext(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = lexguard.RequestIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "abc-123")
	serve(h, r)
	if id != "abc-123" {
		t.Fatalf("request id = %q", id)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "has space")
	serve(h, r)
	if id == "has space" || id == "" {
		t.Fatalf("invalid request id kept: %q", id)
	}
}

func TestParseTrustedProxiesRejectsJunk(t *testing.T) {
	if _, err := middleware.ParseTrustedProxies("10.0.0.0/33"); err == nil {
		t.Fatal("expected error for bad prefix")
	}
	if _, err := middleware.ParseTrustedProxies("example.com"); err == nil {
		t.Fatal("expected error for hostname")
	}
	got, err := middleware.ParseTrustedProxies(" ", "::1")
	if err != nil || len(got) != 1 || got[0] != netip.MustParsePrefix("::1/128") {
		t.Fatalf("ParseTrustedProxies = %v, %v", got, err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := serve(middleware.SecurityHeaders(okHandler), httptest.NewRequest(http.MethodGet, "/auth/signin", nil))
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeadersOnRedirect(t *testing.T) {
	engine, _ := newTestEngine(t)
	h := middleware.Chain(middleware.SecurityHeaders, middleware.Guard(engine))(okHandler)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("denied responses must carry hardening headers")
	}
}

func TestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	serve(h, httptest.NewRequest(http.MethodGet, "/brew", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "msg=http.request", "path=/brew", "status=418"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q missing %q", out, want)
		}
	}
}

