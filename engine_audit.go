package lexguard

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/lexguard/internal/audit"
	"github.com/MrEthical07/lexguard/ratelimit"
	"github.com/MrEthical07/lexguard/session"
)

// AuditKind names an audit event.
type AuditKind = internalaudit.Kind

const (
	AuditAccessDenied      = internalaudit.KindAccessDenied
	AuditRateLimited       = internalaudit.KindRateLimited
	AuditSignInSuccess     = internalaudit.KindSignInSuccess
	AuditSignInFailure     = internalaudit.KindSignInFailure
	AuditSignInRateLimited = internalaudit.KindSignInRateLimited
	AuditSignOut           = internalaudit.KindSignOut
	AuditSignOutAll        = internalaudit.KindSignOutAll
)

// AuditErrorCode is the stable, non-sensitive error label carried by audit events.
type AuditErrorCode string

const (
	auditErrUnauthenticated       AuditErrorCode = "unauthenticated"
	auditErrForbidden             AuditErrorCode = "forbidden"
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrRoleInvalid           AuditErrorCode = "role_invalid"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID    string
	sessionID string
	role      string
	path      string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	kind AuditKind,
	success bool,
	f auditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = id
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		Kind:      kind,
		UserID:    f.userID,
		SessionID: f.sessionID,
		Role:      f.role,
		Path:      f.path,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrSignInRateLimited):
		return auditErrRateLimited
	case errors.Is(err, session.ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrAccountRoleInvalid):
		return auditErrRoleInvalid
	case errors.Is(err, ErrUserProviderUnavailable),
		errors.Is(err, ErrSessionUnavailable),
		errors.Is(err, ErrRateLimitUnavailable),
		errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, ratelimit.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
