package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report is the effective security posture of one engine.
type Report struct {
	SigningAlgorithm string
	// StrictSessions means sign-out is effective before tokens expire.
	StrictSessions   bool
	SessionTTL       time.Duration
	IdleTimeout      time.Duration
	SecureCookie     bool
	Argon2           PasswordReport
	RateLimitBackend string
	// RateLimitShared is true when every process sees the same windows.
	RateLimitShared   bool
	RateLimitFailOpen bool
	SignInThrottle    bool
	ProtectedRoutes   int
	PublicPrefixes    int
	AuditActive       bool
	Warnings          []string
}

type ReportInput struct {
	SigningAlgorithm string
	Strict           bool
	SessionTTL       time.Duration
	IdleTTL          time.Duration
	CookieSecure     bool
	Password         PasswordReport
	RateBackend      string
	RateFailOpen     bool
	SignInAttempts   int
	SignInWindow     time.Duration
	RouteRules       int
	PublicPrefixes   int
	AuditEnabled     bool
	AuditSinkSet     bool
	LintCodes        []string
}

func BuildReport(input ReportInput) Report {
	return Report{
		SigningAlgorithm:  input.SigningAlgorithm,
		StrictSessions:    input.Strict,
		SessionTTL:        input.SessionTTL,
		IdleTimeout:       input.IdleTTL,
		SecureCookie:      input.CookieSecure,
		Argon2:            input.Password,
		RateLimitBackend:  input.RateBackend,
		RateLimitShared:   input.RateBackend == "redis",
		RateLimitFailOpen: input.RateFailOpen,
		SignInThrottle:    input.SignInAttempts > 0 && input.SignInWindow > 0,
		ProtectedRoutes:   input.RouteRules,
		PublicPrefixes:    input.PublicPrefixes,
		AuditActive:       input.AuditEnabled && input.AuditSinkSet,
		Warnings:          append([]string(nil), input.LintCodes...),
	}
}
