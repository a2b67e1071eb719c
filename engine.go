package lexguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/lexguard/internal/audit"
	"github.com/MrEthical07/lexguard/access"
	"github.com/MrEthical07/lexguard/jwt"
	"github.com/MrEthical07/lexguard/password"
	"github.com/MrEthical07/lexguard/permission"
	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/MrEthical07/lexguard/session"
)

// Engine is the portal's access and rate-limit authority. It is built once
// by a Builder and safe for concurrent use.
type Engine struct {
	config       Config
	catalog      *permission.Catalog
	routes       *access.RoutePolicy
	sessions     *session.Store
	provider     session.Provider
	tokens       *jwt.Manager
	hasher       password.Hasher
	rateStore    ratelimit.Store
	limiter      *ratelimit.Limiter
	userProvider UserProvider
	audit        *internalaudit.Dispatcher
	auditSinkSet bool
	metrics      *Metrics
	logger       *slog.Logger
	clock        ratelimit.Clock

	stopJanitor func()
	closeOnce   sync.Once
}

// Close stops the rate-limit janitor and drains the audit queue.
// It does not close the Redis client.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.stopJanitor != nil {
			e.stopJanitor()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped counts audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	return e.AuditStats().Dropped
}

// AuditStats reports the audit dispatcher counters. They are zero when
// auditing is disabled.
func (e *Engine) AuditStats() AuditStats {
	if e == nil {
		return AuditStats{}
	}
	return e.audit.Stats()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

func (e *Engine) Catalog() *permission.Catalog {
	return e.catalog
}

func (e *Engine) Routes() *access.RoutePolicy {
	return e.routes
}

// Limiter exposes the engine's sliding-window limiter.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

/*
====================================
ACCESS CONTROL
====================================
*/

// ResolveSession returns the request's session, or nil when it carries no
// valid credentials. Errors mean the session backend failed.
func (e *Engine) ResolveSession(r *http.Request) (*session.Session, error) {
	if e == nil || e.provider == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.provider.Resolve(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return sess, nil
}

// Authorize decides whether r may reach its path. Public paths are Allowed
// without resolving a session. A non-nil error means the session backend
// failed and the returned decision must not be trusted.
//
// Authorize only decides; redirects and status codes belong to the caller.
func (e *Engine) Authorize(r *http.Request) (access.Decision, access.Requirement, error) {
	start := e.clock.Now()
	req := e.routes.Match(r.URL.Path)
	if req.Public {
		return access.Decision{Outcome: access.Allowed}, req, nil
	}

	sess, err := e.ResolveSession(r)
	if err != nil {
		e.metricInc(MetricAccessError)
		e.logger.Error("access.session.fail",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return access.Decision{Outcome: access.Unauthenticated}, req, err
	}

	d := access.Decide(sess, req.Roles)
	switch d.Outcome {
	case access.Allowed:
		e.metricInc(MetricAccessAllowed)
	case access.Unauthenticated:
		e.metricInc(MetricAccessUnauthenticated)
		e.emitAccessDenied(r, req, d, nil)
	case access.Forbidden:
		e.metricInc(MetricAccessForbidden)
		e.emitAccessDenied(r, req, d, sess)
	}

	if e.metrics.LatencyEnabled() {
		e.metrics.ObserveAuthorize(e.clock.Now().Sub(start))
	}
	return d, req, nil
}

func (e *Engine) emitAccessDenied(r *http.Request, req access.Requirement, d access.Decision, sess *session.Session) {
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("outcome", d.Outcome.String()),
		slog.String("rule", req.Prefix),
	}
	var userID, sessionID, role string
	if sess != nil {
		userID, sessionID, role = sess.UserID, sess.ID, sess.Role.String()
		attrs = append(attrs, slog.String("user_id", userID), slog.String("role", role))
	}
	e.logger.Info("access.denied", attrs...)

	e.emitAudit(r.Context(), AuditAccessDenied, false, auditFields{
		userID:    userID,
		sessionID: sessionID,
		role:      role,
		path:      r.URL.Path,
	}, d.Outcome.Err(), func() map[string]string {
		return map[string]string{
			"outcome": d.Outcome.String(),
			"rule":    req.Prefix,
			"allowed": req.Roles.String(),
		}
	})
}

// HasPermission reports whether role's bundle grants capability.
func (e *Engine) HasPermission(role permission.Role, capability string) bool {
	if e == nil || e.catalog == nil {
		return false
	}
	return e.catalog.HasPermission(role, capability)
}

// Capabilities lists the capabilities granted to role.
func (e *Engine) Capabilities(role permission.Role) []string {
	if e == nil || e.catalog == nil {
		return nil
	}
	return e.catalog.Capabilities(role)
}

/*
====================================
RATE LIMITING
====================================
*/

// AllowRequest records one request for identifier if the window has room.
// Store failures are returned wrapped in ErrRateLimitUnavailable; the
// decision then follows RateLimit.FailOpen.
func (e *Engine) AllowRequest(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Decision, error) {
	if e == nil || e.limiter == nil {
		return ratelimit.Decision{}, ErrEngineNotReady
	}

	d, err := e.limiter.Allow(ctx, identifier, limit, window)
	if err != nil {
		if errors.Is(err, ratelimit.ErrInvalidPolicy) {
			return d, err
		}
		e.metricInc(MetricRateLimitStoreError)
		return d, fmt.Errorf("%w: %v", ErrRateLimitUnavailable, err)
	}

	if d.Allowed {
		e.metricInc(MetricRateLimitAllowed)
		return d, nil
	}

	e.metricInc(MetricRateLimitRejected)
	e.emitAudit(ctx, AuditRateLimited, false, auditFields{}, nil, func() map[string]string {
		return map[string]string{
			"identifier":  identifier,
			"limit":       fmt.Sprint(limit),
			"window":      window.String(),
			"retry_after": d.RetryAfter.String(),
		}
	})
	return d, nil
}

// IsAllowed is the boolean form of AllowRequest with a millisecond window.
// It never fails: store errors resolve per RateLimit.FailOpen and invalid
// policies reject.
func (e *Engine) IsAllowed(identifier string, limit int, windowMs int64) bool {
	d, err := e.AllowRequest(context.Background(), identifier, limit, ratelimit.MillisWindow(windowMs))
	if err != nil {
		return d.Allowed && !errors.Is(err, ratelimit.ErrInvalidPolicy)
	}
	return d.Allowed
}

// RateLimitStatus reports identifier's window without recording a request.
func (e *Engine) RateLimitStatus(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Decision, error) {
	if e == nil || e.limiter == nil {
		return ratelimit.Decision{}, ErrEngineNotReady
	}
	return e.limiter.Status(ctx, identifier, limit, window)
}

// RateLimitTrackedKeys reports how many identifiers an in-process store
// holds. The second result is false for external stores.
func (e *Engine) RateLimitTrackedKeys() (int, bool) {
	if e == nil {
		return 0, false
	}
	if s, ok := e.rateStore.(interface{ Len() int }); ok {
		return s.Len(), true
	}
	return 0, false
}
