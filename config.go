package lexguard

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/lexguard/access"
)

// Config holds every Engine setting. Build a value with DefaultConfig, adjust
// it, and hand it to Builder.WithConfig. The Engine keeps its own copy.
type Config struct {
	Session   SessionConfig
	Token     TokenConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	SignIn    SignInConfig
	Routes    RoutesConfig
	Redirects RedirectConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and where sessions are read from.
type SessionConfig struct {
	RedisPrefix string
	// TTL is the absolute session lifetime.
	TTL time.Duration
	// IdleTTL, when positive, expires sessions that see no traffic.
	IdleTTL time.Duration
	// CookieName is consulted when no bearer token is present.
	CookieName   string
	CookieSecure bool
	// Strict checks every token against the session store so sign-out
	// takes effect immediately.
	Strict bool
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures session token signing.
type TokenConfig struct {
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id parameters used by SignIn.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitBackend selects where sliding windows are kept.
type RateLimitBackend string

const (
	RateLimitMemory RateLimitBackend = "memory"
	RateLimitRedis  RateLimitBackend = "redis"
)

// RateLimitConfig sets the default request policy and the window store.
type RateLimitConfig struct {
	Backend     RateLimitBackend
	RedisPrefix string
	// Limit and Window are the default policy applied by the request boundary.
	Limit  int
	Window time.Duration
	// FailOpen admits requests when the store fails. Default is to reject.
	FailOpen bool

	// Memory backend tuning.
	Shards        int
	MaxKeys       int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

/*
====================================
SIGN-IN CONFIG
====================================
*/

// SignInConfig throttles credential checks per normalized email.
type SignInConfig struct {
	MaxAttempts int
	Window      time.Duration
}

/*
====================================
ROUTE CONFIG
====================================
*/

// RoutesConfig is the route policy table. Empty Rules and Public fall back
// to the portal defaults.
type RoutesConfig struct {
	Rules  []access.RouteRule
	Public []string
}

// RedirectConfig says where denied page requests are sent.
type RedirectConfig struct {
	SignInURL       string
	UnauthorizedURL string
	// CallbackParam carries the original path+query to the sign-in page.
	CallbackParam string
	// APIPrefix paths get JSON 401/403 responses instead of redirects.
	APIPrefix string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the portal defaults. Token keys are left empty and
// must be supplied before Build.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:  "lg:s",
			TTL:          8 * time.Hour,
			IdleTTL:      30 * time.Minute,
			CookieName:   "lexguard_session",
			CookieSecure: true,
			Strict:       true,
		},
		Token: TokenConfig{
			SigningMethod: "ed25519",
			Issuer:        "lexguard",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			Backend:       RateLimitMemory,
			RedisPrefix:   "lg:rl",
			Limit:         100,
			Window:        time.Minute,
			Shards:        32,
			MaxKeys:       100_000,
			IdleTTL:       time.Minute,
			SweepInterval: 30 * time.Second,
		},
		SignIn: SignInConfig{
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Routes: RoutesConfig{
			Rules:  access.DefaultRules(),
			Public: access.DefaultPublicPrefixes(),
		},
		Redirects: RedirectConfig{
			SignInURL:       "/auth/signin",
			UnauthorizedURL: "/unauthorized",
			CallbackParam:   "callbackUrl",
			APIPrefix:       "/api/",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.Routes.Rules != nil {
		out.Routes.Rules = append([]access.RouteRule(nil), cfg.Routes.Rules...)
	}
	if cfg.Routes.Public != nil {
		out.Routes.Public = append([]string(nil), cfg.Routes.Public...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the Engine cannot run with.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.IdleTTL < 0 {
		return errors.New("Session IdleTTL must be >= 0")
	}
	if c.Session.IdleTTL > c.Session.TTL {
		return errors.New("Session IdleTTL must not exceed TTL")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if !validCookieName(c.Session.CookieName) {
		return errors.New("Session CookieName is invalid")
	}

	// Token
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported token signing method")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Rate limit
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("unsupported rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Limit <= 0 {
		return errors.New("RateLimit Limit must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.Shards < 0 || c.RateLimit.MaxKeys < 0 {
		return errors.New("RateLimit Shards and MaxKeys must be >= 0")
	}
	if c.RateLimit.IdleTTL < 0 || c.RateLimit.SweepInterval < 0 {
		return errors.New("RateLimit IdleTTL and SweepInterval must be >= 0")
	}

	// Sign-in
	if c.SignIn.MaxAttempts <= 0 {
		return errors.New("SignIn MaxAttempts must be > 0")
	}
	if c.SignIn.Window <= 0 {
		return errors.New("SignIn Window must be > 0")
	}

	// Routes
	if _, err := access.NewRoutePolicy(c.Routes.Rules, c.Routes.Public); err != nil {
		return err
	}

	// Redirects
	if !strings.HasPrefix(c.Redirects.SignInURL, "/") {
		return errors.New("Redirects SignInURL must be an absolute path")
	}
	if !strings.HasPrefix(c.Redirects.UnauthorizedURL, "/") {
		return errors.New("Redirects UnauthorizedURL must be an absolute path")
	}
	if c.Redirects.CallbackParam == "" {
		return errors.New("Redirects CallbackParam must be set")
	}
	if c.Redirects.APIPrefix != "" && !strings.HasPrefix(c.Redirects.APIPrefix, "/") {
		return errors.New("Redirects APIPrefix must start with /")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	c := &http.Cookie{Name: name, Value: "x"}
	return c.Valid() == nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a setting that is valid but probably unintended.
type LintWarning struct {
	Code    string
	Message string
}

// LintResult is the ordered list of warnings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// Lint reports risky but valid settings. It never fails.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if !c.Session.Strict {
		add("session_not_strict", "tokens stay valid after sign-out until they expire")
	}
	if c.Session.TTL > 24*time.Hour {
		add("session_ttl_long", "sessions outlive a working day")
	}
	if !c.Session.CookieSecure {
		add("cookie_insecure", "session cookie is sent over plain HTTP")
	}
	if c.Token.SigningMethod == "hs256" {
		add("hs256_shared_key", "hs256 shares one secret between signer and verifiers")
	}
	if c.Token.Leeway > time.Minute {
		add("leeway_large", "token leeway above one minute")
	}
	if c.RateLimit.FailOpen {
		add("rate_limit_fail_open", "requests are admitted while the rate-limit store is down")
	}
	if c.RateLimit.Backend == RateLimitMemory {
		add("rate_limit_per_process", "memory backend limits each process separately")
	}
	if c.SignIn.MaxAttempts > 20 {
		add("signin_attempts_high", "more than 20 sign-in attempts per window")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "access denials are not audited")
	}

	return ws
}
