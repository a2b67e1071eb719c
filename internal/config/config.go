// Package config loads process settings for the lexguard binaries from the
// environment and turns them into an engine configuration.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/lexguard"
	"github.com/MrEthical07/lexguard/permission"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/joeshaw/envdecode"
)

// Config is decoded from environment variables. Defaults live in the tags.
type Config struct {
	Addr            string        `env:"LEXGUARD_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"LEXGUARD_SHUTDOWN_TIMEOUT,default=10s"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	// DatabaseURL enables the Postgres user store. Without it the server
	// has no accounts to sign in.
	DatabaseURL string `env:"DB_DSN"`

	// TokenKeyFile is a PEM Ed25519 private key. Empty means an ephemeral
	// key, which invalidates every token on restart.
	TokenKeyFile string `env:"LEXGUARD_TOKEN_KEY"`
	TokenIssuer  string `env:"LEXGUARD_TOKEN_ISSUER,default=lexguard"`

	SessionTTL   time.Duration `env:"LEXGUARD_SESSION_TTL,default=8h"`
	CookieSecure bool          `env:"LEXGUARD_COOKIE_SECURE,default=true"`

	RateLimit    int           `env:"LEXGUARD_RATE_LIMIT,default=100"`
	RateWindow   time.Duration `env:"LEXGUARD_RATE_WINDOW,default=1m"`
	RateBackend  string        `env:"LEXGUARD_RATE_BACKEND,default=memory"`
	RateFailOpen bool          `env:"LEXGUARD_RATE_FAIL_OPEN,default=false"`

	SignInAttempts int           `env:"LEXGUARD_SIGNIN_ATTEMPTS,default=5"`
	SignInWindow   time.Duration `env:"LEXGUARD_SIGNIN_WINDOW,default=15m"`

	// PolicyFile is a YAML file with bundles, role bindings and routes.
	PolicyFile string `env:"LEXGUARD_POLICY_FILE"`
	// TrustedProxies is a comma-separated list of CIDRs or addresses whose
	// forwarding headers are believed.
	TrustedProxies string `env:"LEXGUARD_TRUSTED_PROXIES"`

	// AuditFile, when set, receives audit events as JSON lines in addition
	// to the log.
	AuditFile string `env:"LEXGUARD_AUDIT_FILE"`

	LogLevel  string `env:"LEXGUARD_LOG_LEVEL,default=info"`
	LogFormat string `env:"LEXGUARD_LOG_FORMAT,default=json"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE,default=false"`
}

// Load decodes the environment. Malformed values are errors rather than
// silently falling back to the default.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// TrustedProxyList splits TrustedProxies.
func (c Config) TrustedProxyList() []string {
	if strings.TrimSpace(c.TrustedProxies) == "" {
		return nil
	}
	parts := strings.Split(c.TrustedProxies, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Engine applies the process settings on top of base. The returned catalog
// is nil unless the policy file defines bundles.
func (c Config) Engine(base lexguard.Config) (lexguard.Config, *permission.Catalog, error) {
	cfg := base

	priv, pub, err := c.tokenKeys()
	if err != nil {
		return lexguard.Config{}, nil, err
	}
	cfg.Token.SigningMethod = "ed25519"
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Token.Issuer = c.TokenIssuer

	cfg.Session.TTL = c.SessionTTL
	if cfg.Session.IdleTTL > cfg.Session.TTL {
		cfg.Session.IdleTTL = cfg.Session.TTL
	}
	cfg.Session.CookieSecure = c.CookieSecure

	cfg.RateLimit.Limit = c.RateLimit
	cfg.RateLimit.Window = c.RateWindow
	cfg.RateLimit.Backend = lexguard.RateLimitBackend(c.RateBackend)
	cfg.RateLimit.FailOpen = c.RateFailOpen

	cfg.SignIn.MaxAttempts = c.SignInAttempts
	cfg.SignIn.Window = c.SignInWindow

	var catalog *permission.Catalog
	if c.PolicyFile != "" {
		f, err := os.Open(c.PolicyFile)
		if err != nil {
			return lexguard.Config{}, nil, fmt.Errorf("open policy file: %w", err)
		}
		defer f.Close()

		policy, err := LoadPolicy(f)
		if err != nil {
			return lexguard.Config{}, nil, err
		}
		if catalog, err = policy.Catalog(); err != nil {
			return lexguard.Config{}, nil, err
		}
		rules, public, err := policy.RouteTable()
		if err != nil {
			return lexguard.Config{}, nil, err
		}
		if len(rules) > 0 || len(public) > 0 {
			cfg.Routes.Rules = rules
			cfg.Routes.Public = public
		}
	}

	if err := cfg.Validate(); err != nil {
		return lexguard.Config{}, nil, err
	}
	return cfg, catalog, nil
}

// Ephemeral reports whether tokens are signed with a per-process key.
func (c Config) Ephemeral() bool {
	return c.TokenKeyFile == ""
}

func (c Config) tokenKeys() (priv, pub []byte, err error) {
	if c.TokenKeyFile == "" {
		pk, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate token key: %w", err)
		}
		return sk, pk, nil
	}

	data, err := os.ReadFile(c.TokenKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read token key: %w", err)
	}
	parsed, err := jwtlib.ParseEdPrivateKeyFromPEM(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse token key: %w", err)
	}
	sk, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, errors.New("token key is not an Ed25519 private key")
	}
	return sk, sk.Public().(ed25519.PublicKey), nil
}

// Logger builds the process logger.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
