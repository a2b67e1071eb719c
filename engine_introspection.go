package lexguard

import (
	"context"
	"time"

	"github.com/MrEthical07/lexguard/internal/security"
)

// SecurityReport summarizes the protections an engine runs with.
type SecurityReport = security.Report

// HealthStatus is a point-in-time view of the engine's backends.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
	// RateLimitAvailable is true for in-process stores.
	RateLimitAvailable bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health pings Redis and, when it is external, the rate-limit store.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessions == nil {
		return HealthStatus{}
	}

	latency, err := e.sessions.Ping(ctx)
	status := HealthStatus{
		RedisAvailable:     err == nil,
		RedisLatency:       latency,
		RateLimitAvailable: true,
	}
	if p, ok := e.rateStore.(pinger); ok {
		status.RateLimitAvailable = p.Ping(ctx) == nil
	}
	return status
}

// ActiveSessionIDs lists the stored session IDs of userID.
func (e *Engine) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	return e.sessions.ActiveSessionIDs(ctx, userID)
}

// SignInAttempts reports how many sign-in attempts email has left in the
// current window.
func (e *Engine) SignInAttempts(ctx context.Context, email string) (remaining int, err error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return e.config.SignIn.MaxAttempts, nil
	}
	d, err := e.limiter.Status(ctx, signInKeyPrefix+email, e.config.SignIn.MaxAttempts, e.config.SignIn.Window)
	if err != nil {
		return 0, err
	}
	return d.Remaining, nil
}

// SecurityReport describes the engine's effective posture. Warnings carries
// the Config.Lint codes.
func (e *Engine) SecurityReport() SecurityReport {
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: cfg.Token.SigningMethod,
		Strict:           cfg.Session.Strict,
		SessionTTL:       cfg.Session.TTL,
		IdleTTL:          cfg.Session.IdleTTL,
		CookieSecure:     cfg.Session.CookieSecure,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		RateBackend:    e.rateBackend(),
		RateFailOpen:   cfg.RateLimit.FailOpen,
		SignInAttempts: cfg.SignIn.MaxAttempts,
		SignInWindow:   cfg.SignIn.Window,
		RouteRules:     len(e.routes.Rules()),
		PublicPrefixes: len(cfg.Routes.Public),
		AuditEnabled:   e.audit != nil,
		AuditSinkSet:   e.auditSinkSet,
		LintCodes:      cfg.Lint().Codes(),
	})
}

func (e *Engine) rateBackend() string {
	if _, ok := e.rateStore.(pinger); ok {
		return string(RateLimitRedis)
	}
	if _, ok := e.rateStore.(interface{ Len() int }); ok {
		return string(RateLimitMemory)
	}
	return "custom"
}
