package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrEthical07/lexguard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestServer(t *testing.T) (http.Handler, *lexguard.Engine) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := lexguard.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Password = lexguard.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Audit.Enabled = false

	users := newMemoryUsers()
	engine, err := lexguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	if err := users.seedDemo(engine); err != nil {
		t.Fatalf("seed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := &server{engine: engine, logger: logger}
	return srv.routes(), engine
}

func do(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func signInJSON(t *testing.T, h http.Handler, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(signInRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	return do(h, req)
}

func TestSignInAndSession(t *testing.T) {
	h, _ := newTestServer(t)

	rr := signInJSON(t, h, "Lawyer@Example.com", demoPassword)
	if rr.Code != http.StatusOK {
		t.Fatalf("signin status = %d body=%s", rr.Code, rr.Body.String())
	}
	var res signInResponse
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Token == "" || res.Role != "LAWYER" {
		t.Fatalf("unexpected response %+v", res)
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "lexguard_session" {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected an HttpOnly session cookie, got %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	rr = do(h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("session status = %d", rr.Code)
	}
	var sess sessionResponse
	if err := json.NewDecoder(rr.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.UserID != "demo-lawyer" || sess.Role != "LAWYER" {
		t.Fatalf("unexpected session %+v", sess)
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard/cases", nil)
	req.AddCookie(cookie)
	rr = do(h, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Lawyer dashboard") {
		t.Fatalf("dashboard status = %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestSignInForm(t *testing.T) {
	h, _ := newTestServer(t)

	form := url.Values{"email": {"client@example.com"}, "password": {demoPassword}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := do(h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	h, _ := newTestServer(t)

	for _, tc := range []struct{ email, password string }{
		{"lawyer@example.com", "wrong-password"},
		{"nobody@example.com", demoPassword},
		{"", ""},
	} {
		rr := signInJSON(t, h, tc.email, tc.password)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%q: status = %d", tc.email, rr.Code)
		}
		if strings.Contains(rr.Body.String(), "not found") {
			t.Fatalf("%q: response leaks account existence: %s", tc.email, rr.Body.String())
		}
	}
}

func TestSignInMalformedBody(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	if rr := do(h, req); rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestPageRedirects(t *testing.T) {
	h, engine := newTestServer(t)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/dashboard/cases?id=7", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("anonymous status = %d", rr.Code)
	}
	want := "/auth/signin?callbackUrl=" + url.QueryEscape("/dashboard/cases?id=7")
	if got := rr.Header().Get("Location"); got != want {
		t.Fatalf("Location = %q, want %q", got, want)
	}

	res, err := engine.SignIn(context.Background(), "client@example.com", demoPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	req.AddCookie(engine.SessionCookie(res))
	rr = do(h, req)
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/unauthorized" {
		t.Fatalf("client on dashboard: status = %d location = %q", rr.Code, rr.Header().Get("Location"))
	}
}

func TestAPIUnauthenticated(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("X-RateLimit-Limit = %q", rr.Header().Get("X-RateLimit-Limit"))
	}
}

func TestAPIQuotaIsPerUser(t *testing.T) {
	h, engine := newTestServer(t)

	lawyer, err := engine.SignIn(context.Background(), "lawyer@example.com", demoPassword)
	if err != nil {
		t.Fatalf("SignIn lawyer: %v", err)
	}
	client, err := engine.SignIn(context.Background(), "client@example.com", demoPassword)
	if err != nil {
		t.Fatalf("SignIn client: %v", err)
	}

	call := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return do(h, req)
	}

	limit := engine.Config().RateLimit.Limit
	for i := 0; i < limit; i++ {
		if rr := call(lawyer.Token); rr.Code != http.StatusOK {
			t.Fatalf("lawyer call %d: status = %d", i, rr.Code)
		}
	}
	if rr := call(lawyer.Token); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("lawyer over quota: status = %d", rr.Code)
	}

	// Same client address, different user.
	if rr := call(client.Token); rr.Code != http.StatusOK {
		t.Fatalf("client call: status = %d", rr.Code)
	}
}

func TestPermissionsEndpoint(t *testing.T) {
	h, engine := newTestServer(t)

	res, err := engine.SignIn(context.Background(), "client@example.com", demoPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	tests := []struct {
		capability string
		allowed    bool
	}{
		{"view_cases", true},
		{"video_calls", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/permissions?capability="+tc.capability, nil)
		req.Header.Set("Authorization", "Bearer "+res.Token)
		rr := do(h, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.capability, rr.Code)
		}
		var body struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Allowed != tc.allowed {
			t.Fatalf("%s: allowed = %v", tc.capability, body.Allowed)
		}
	}
}

func TestSignOut(t *testing.T) {
	h, engine := newTestServer(t)

	res, err := engine.SignIn(context.Background(), "admin@example.com", demoPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	if rr := do(h, req); rr.Code != http.StatusNoContent {
		t.Fatalf("signout status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	if rr := do(h, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("session after signout status = %d", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing on healthz")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id not echoed")
	}

	_ = do(h, httptest.NewRequest(http.MethodGet, "/admin/", nil))
	rr = do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "lexguard_access_unauthenticated_total 1") {
		t.Fatalf("metrics body missing denial count:\n%s", rr.Body.String())
	}
}

func TestSignInPageKeepsLocalCallback(t *testing.T) {
	h, _ := newTestServer(t)

	for _, tc := range []struct{ callback, want string }{
		{"/dashboard/cases", `value="/dashboard/cases"`},
		{"//evil.example", `value="/"`},
		{"https://evil.example", `value="/"`},
	} {
		rr := do(h, httptest.NewRequest(http.MethodGet, "/auth/signin?callbackUrl="+url.QueryEscape(tc.callback), nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tc.callback, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), tc.want) {
			t.Fatalf("%q: body missing %s", tc.callback, tc.want)
		}
	}
}

func TestAuditSinkWritesFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sink, closeSink, err := auditSink("", logger)
	if err != nil {
		t.Fatalf("auditSink without file: %v", err)
	}
	closeSink()
	if _, ok := sink.(*lexguard.SlogSink); !ok {
		t.Fatalf("sink without file = %T", sink)
	}

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, closeSink, err = auditSink(path, logger)
	if err != nil {
		t.Fatalf("auditSink: %v", err)
	}
	sink.Emit(context.Background(), lexguard.AuditEvent{Kind: lexguard.AuditSignOut, SessionID: "s-1", Success: true})
	closeSink()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"event_type":"signout"`) || !strings.Contains(string(data), `"session_id":"s-1"`) {
		t.Fatalf("audit file = %s", data)
	}

	if _, _, err := auditSink(filepath.Join(t.TempDir(), "missing", "audit.jsonl"), logger); err == nil {
		t.Fatal("unwritable audit path accepted")
	}
}
